package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPrincipalRoundTrip(t *testing.T) {
	for i := 0; i < 20; i++ {
		pub, _, err := ed25519.GenerateKey(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		der, err := x509.MarshalPKIXPublicKey(pub)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		raw := PrincipalBytes(der)
		if len(raw) != 29 || raw[0] != 0x02 {
			t.Fatalf("unexpected principal bytes: %x", raw)
		}
		text := EncodePrincipal(raw)
		decoded, err := DecodePrincipal(text)
		if err != nil {
			t.Fatalf("decode %q: %v", text, err)
		}
		if !bytes.Equal(decoded, raw) {
			t.Fatalf("round trip mismatch: %x vs %x", decoded, raw)
		}
	}
}

func TestEncodePrincipalKnownValues(t *testing.T) {
	// The anonymous principal and management canister have well known text forms.
	if got := EncodePrincipal([]byte{0x04}); got != "2vxsx-fae" {
		t.Fatalf("anonymous principal = %q", got)
	}
	if got := EncodePrincipal([]byte{}); got != "aaaaa-aa" {
		t.Fatalf("management principal = %q", got)
	}
}

func TestEncodePrincipalGrouping(t *testing.T) {
	text := EncodePrincipal(bytes.Repeat([]byte{0xab}, 29))
	if text != strings.ToLower(text) {
		t.Fatalf("expected lowercase text: %q", text)
	}
	for i, group := range strings.Split(text, "-") {
		last := i == len(strings.Split(text, "-"))-1
		if !last && len(group) != 5 {
			t.Fatalf("group %d has length %d in %q", i, len(group), text)
		}
	}
}

func TestDecodePrincipalChecksumMismatch(t *testing.T) {
	text := EncodePrincipal([]byte{0x02, 0x01, 0x02, 0x03})
	// Flip the first character to corrupt the checksum.
	corrupted := "b" + text[1:]
	if text[0] == 'b' {
		corrupted = "c" + text[1:]
	}
	if _, err := DecodePrincipal(corrupted); err == nil {
		t.Fatalf("expected checksum failure for %q", corrupted)
	}
	if _, err := DecodePrincipal(""); err == nil {
		t.Fatalf("expected error for empty text")
	}
}

func TestGenerateProducesConsistentIdentity(t *testing.T) {
	id, err := generate(nil, "agent1qsender", time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	priv, err := ParsePrivateKey(id.PrivateKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	principal, err := PrincipalFromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if principal != id.Principal {
		t.Fatalf("principal mismatch: %s vs %s", principal, id.Principal)
	}
	der, _ := base64.StdEncoding.DecodeString(id.PublicKey)
	if EncodePrincipal(PrincipalBytes(der)) != id.Principal {
		t.Fatalf("public key does not match principal")
	}
	if id.CreatedAt != 1700000000 || id.Sender != "agent1qsender" {
		t.Fatalf("unexpected identity fields: %+v", id)
	}
}

func TestParsePrivateKeyFormats(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pemText, err := EncodePrivateKeyPEM(priv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	der, _ := x509.MarshalPKCS8PrivateKey(priv)

	inputs := map[string]string{
		"seed hex":   hex.EncodeToString(priv.Seed()),
		"full hex":   hex.EncodeToString(priv),
		"pem":        pemText,
		"base64 der": base64.StdEncoding.EncodeToString(der),
	}
	for name, in := range inputs {
		got, err := ParsePrivateKey(in)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if !bytes.Equal(got, priv) {
			t.Fatalf("%s: key mismatch", name)
		}
	}
}

func TestParsePrivateKeyInvalid(t *testing.T) {
	for _, in := range []string{"", "not a key", "abcd", base64.StdEncoding.EncodeToString([]byte("junk"))} {
		_, err := ParsePrivateKey(in)
		if !errors.Is(err, ErrInvalidKeyFormat) {
			t.Fatalf("expected invalid key format for %q, got %v", in, err)
		}
	}
}

func TestSealerRoundTrip(t *testing.T) {
	s := NewSealer("correct horse")
	sealed, err := s.Seal("secret-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !IsSealed(sealed) || strings.Contains(sealed, "secret-key") {
		t.Fatalf("value not sealed: %q", sealed)
	}
	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opened != "secret-key" {
		t.Fatalf("unexpected plaintext: %q", opened)
	}

	if _, err := NewSealer("wrong").Open(sealed); err == nil {
		t.Fatalf("expected failure with wrong passphrase")
	}
	var none *Sealer
	if plain, _ := none.Seal("x"); plain != "x" {
		t.Fatalf("nil sealer should pass through")
	}
	if _, err := none.Open(sealed); err == nil {
		t.Fatalf("expected failure opening sealed value without passphrase")
	}
}
