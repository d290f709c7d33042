package identity

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"hash/crc32"
	"strings"

	xerrors "Nara-Wallet/internal/errors"
)

// selfAuthenticatingTag 标记由公钥派生的主体。
const selfAuthenticatingTag = 0x02

var principalEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrInvalidPrincipal 表示主体文本无法解码或校验和不匹配。
var ErrInvalidPrincipal = xerrors.New(xerrors.CodeInvalidArgument, "invalid principal text")

// PrincipalBytes 根据 DER 编码的公钥计算主体字节：tag || sha224(der)。
func PrincipalBytes(derPublicKey []byte) []byte {
	sum := sha256.Sum224(derPublicKey)
	out := make([]byte, 0, 1+len(sum))
	out = append(out, selfAuthenticatingTag)
	return append(out, sum[:]...)
}

// EncodePrincipal 输出带 CRC32 校验、每 5 个字符以 '-' 分组的小写 base32 文本。
func EncodePrincipal(raw []byte) string {
	buf := make([]byte, 4+len(raw))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(raw))
	copy(buf[4:], raw)
	text := strings.ToLower(principalEncoding.EncodeToString(buf))

	var b strings.Builder
	for i := 0; i < len(text); i += 5 {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + 5
		if end > len(text) {
			end = len(text)
		}
		b.WriteString(text[i:end])
	}
	return b.String()
}

// DecodePrincipal 解析主体文本，并重新计算 CRC32 与文本中的校验和比对。
func DecodePrincipal(text string) ([]byte, error) {
	compact := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(text), "-", ""))
	if compact == "" {
		return nil, ErrInvalidPrincipal
	}
	buf, err := principalEncoding.DecodeString(compact)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid principal text")
	}
	if len(buf) < 4 {
		return nil, ErrInvalidPrincipal
	}
	raw := buf[4:]
	if binary.BigEndian.Uint32(buf[:4]) != crc32.ChecksumIEEE(raw) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "principal checksum mismatch")
	}
	if EncodePrincipal(raw) != strings.ToLower(strings.TrimSpace(text)) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "principal text is not canonical")
	}
	return raw, nil
}
