package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/grantd/internal/store/core"
)

func entry(key string, typ core.GrantType, exp time.Time) *core.GrantEntry {
	return &core.GrantEntry{
		Key:          key,
		Type:         typ,
		SubjectID:    "u1",
		ClientID:     "c1",
		CreationTime: time.Now(),
		Expiration:   exp,
		Data:         []byte(`{}`),
	}
}

func TestStore_DuplicateKeyConflicts(t *testing.T) {
	s := New()
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)

	if err := s.Store(ctx, entry("k1", core.GrantAuthorizationCode, exp)); err != nil {
		t.Fatalf("first store: %v", err)
	}
	if err := s.Store(ctx, entry("k1", core.GrantAuthorizationCode, exp)); err != core.ErrConflict {
		t.Fatalf("duplicate store: got %v, want ErrConflict", err)
	}
	// Same key under a different type is a different entry.
	if err := s.Store(ctx, entry("k1", core.GrantRefreshToken, exp)); err != nil {
		t.Fatalf("same key different type: %v", err)
	}
}

func TestMarkConsumed_ExactlyOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Store(ctx, entry("code1", core.GrantAuthorizationCode, time.Now().Add(time.Minute))); err != nil {
		t.Fatalf("store: %v", err)
	}

	const racers = 32
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.MarkConsumed(ctx, core.GrantAuthorizationCode, "code1", time.Now())
		}()
	}
	wg.Wait()
	close(results)

	ok, consumed := 0, 0
	for err := range results {
		switch err {
		case nil:
			ok++
		case core.ErrAlreadyConsumed:
			consumed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || consumed != racers-1 {
		t.Fatalf("got %d winners and %d losers, want exactly 1 and %d", ok, consumed, racers-1)
	}
}

func TestMarkConsumed_Missing(t *testing.T) {
	s := New()
	if err := s.MarkConsumed(context.Background(), core.GrantAuthorizationCode, "nope", time.Now()); err != core.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRemoveAll_Filter(t *testing.T) {
	s := New()
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)

	_ = s.Store(ctx, entry("a", core.GrantAuthorizationCode, exp))
	_ = s.Store(ctx, entry("b", core.GrantRefreshToken, exp))
	other := entry("c", core.GrantRefreshToken, exp)
	other.SubjectID = "u2"
	_ = s.Store(ctx, other)

	n, err := s.RemoveAll(ctx, core.Filter{SubjectID: "u1", ClientID: "c1"})
	if err != nil {
		t.Fatalf("remove all: %v", err)
	}
	if n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
}

func TestSweepExpired_Idempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	_ = s.Store(ctx, entry("old1", core.GrantAuthorizationCode, now.Add(-time.Minute)))
	_ = s.Store(ctx, entry("old2", core.GrantDeviceCode, now.Add(-time.Second)))
	_ = s.Store(ctx, entry("live", core.GrantRefreshToken, now.Add(time.Hour)))

	n, err := s.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("first sweep removed %d, want 2", n)
	}

	n, err = s.SweepExpired(ctx, now)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("second sweep removed %d, want 0", n)
	}

	if _, err := s.GetByKey(ctx, core.GrantRefreshToken, "live"); err != nil {
		t.Fatalf("live entry should survive sweep: %v", err)
	}
}
