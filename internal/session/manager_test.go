package session

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Nara-Wallet/internal/identity"
)

func TestEnsureIdentityIsIdempotentUnderConcurrency(t *testing.T) {
	m := NewManager(NewMemoryStore())
	var generated atomic.Int32
	m.gen = func(sender string) (*identity.Identity, error) {
		generated.Add(1)
		return identity.Generate(sender)
	}

	const workers = 16
	principals := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := m.WithSender(context.Background(), "alice", func(tx *Tx) error {
				id, _, err := tx.EnsureIdentity()
				if err != nil {
					return err
				}
				principals[i] = id.Principal
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if generated.Load() != 1 {
		t.Fatalf("expected exactly one identity generation, got %d", generated.Load())
	}
	for _, p := range principals {
		if p != principals[0] {
			t.Fatalf("principals differ: %v", principals)
		}
	}
	if m.locks.size() != 0 {
		t.Fatalf("expected idle locks to be released, got %d", m.locks.size())
	}
}

func TestPendingIntentConsumedOnce(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	err := m.WithSender(ctx, "bob", func(tx *Tx) error {
		_, err := tx.SetPending(KindTransfer, "send_solana", Arguments{Asset: "SOL", Destination: "dest", Amount: "1"})
		return err
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var taken atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithSender(ctx, "bob", func(tx *Tx) error {
				intent, err := tx.TakePending()
				if err != nil {
					return err
				}
				if intent != nil {
					taken.Add(1)
				}
				return nil
			})
		}()
	}
	wg.Wait()
	if taken.Load() != 1 {
		t.Fatalf("pending intent consumed %d times", taken.Load())
	}
}

func TestSetPendingReplacesPrevious(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()
	_ = m.WithSender(ctx, "carol", func(tx *Tx) error {
		_, _ = tx.SetPending(KindTransfer, "send_bitcoin", Arguments{Asset: "BTC", Amount: "1"})
		_, _ = tx.SetPending(KindPurchase, "buy_crypto", Arguments{Asset: "ETH", Amount: "2"})
		intent, err := tx.TakePending()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if intent.Kind != KindPurchase || intent.Arguments.Asset != "ETH" {
			t.Fatalf("unexpected intent: %+v", intent)
		}
		if again, _ := tx.TakePending(); again != nil {
			t.Fatalf("expected no pending intent, got %+v", again)
		}
		return nil
	})
}

func TestWithSenderHonoursContext(t *testing.T) {
	m := NewManager(NewMemoryStore())
	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = m.WithSender(context.Background(), "dave", func(tx *Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.WithSender(ctx, "dave", func(tx *Tx) error { return nil })
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(release)

	if err := m.WithSender(context.Background(), "", func(tx *Tx) error { return nil }); err == nil {
		t.Fatalf("expected error for empty sender")
	}
}

func TestSigningKeyWithSealer(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, WithSealer(identity.NewSealer("passphrase")))
	ctx := context.Background()

	err := m.WithSender(ctx, "erin", func(tx *Tx) error {
		id, key, err := tx.SigningKey()
		if err != nil {
			return err
		}
		if !identity.IsSealed(id.PrivateKey) {
			t.Fatalf("stored key should be sealed")
		}
		principal, err := identity.PrincipalFromPublicKey(key.Public().(ed25519.PublicKey))
		if err != nil {
			return err
		}
		if principal != id.Principal {
			t.Fatalf("recovered key does not match principal")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
