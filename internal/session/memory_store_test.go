package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"StarkFinder/internal/extraction"
)

func newTestStore(ttl time.Duration) (*MemoryStore, *time.Time) {
	store := NewMemoryStore(ttl)
	current := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return current }
	return store, &current
}

func TestTouchCreatesSession(t *testing.T) {
	store, _ := newTestStore(DefaultTTL)
	ctx := context.Background()

	sess, err := store.Touch(ctx, "1_2", true)
	if err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	if sess.Key != "1_2" || !sess.IsGroup {
		t.Fatalf("unexpected session: %+v", sess)
	}

	// IsGroup 在创建时确定，后续 Touch 不会改写。
	sess, err = store.Touch(ctx, "1_2", false)
	if err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	if !sess.IsGroup {
		t.Fatalf("IsGroup must not change after creation")
	}
}

func TestUpsertPartialUpdate(t *testing.T) {
	store, _ := newTestStore(DefaultTTL)
	ctx := context.Background()

	address := "0xabc"
	credential := "secret"
	sess, err := store.Upsert(ctx, "1_2", Update{WalletAddress: &address, SigningCredential: &credential})
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if !sess.HasWallet() {
		t.Fatalf("wallet should be connected: %+v", sess)
	}

	// 空 Update 保持已有字段。
	sess, err = store.Upsert(ctx, "1_2", Update{})
	if err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if sess.WalletAddress != "0xabc" || sess.SigningCredential != "secret" {
		t.Fatalf("nil fields must keep previous values: %+v", sess)
	}
}

func TestSessionExpiry(t *testing.T) {
	store, current := newTestStore(30 * time.Minute)
	ctx := context.Background()

	if _, err := store.Touch(ctx, "1_2", false); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}

	*current = current.Add(29 * time.Minute)
	if _, err := store.Get(ctx, "1_2"); err != nil {
		t.Fatalf("session should still be alive: %v", err)
	}

	*current = current.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "1_2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestActivityExtendsSession(t *testing.T) {
	store, current := newTestStore(30 * time.Minute)
	ctx := context.Background()

	if _, err := store.Touch(ctx, "1_2", false); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	*current = current.Add(20 * time.Minute)
	if _, err := store.Touch(ctx, "1_2", false); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	*current = current.Add(20 * time.Minute)
	if _, err := store.Get(ctx, "1_2"); err != nil {
		t.Fatalf("activity should extend the session: %v", err)
	}
}

func TestExpiredSessionDropsPending(t *testing.T) {
	store, current := newTestStore(30 * time.Minute)
	ctx := context.Background()

	if _, err := store.Touch(ctx, "1_2", false); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	if err := store.SetPending(ctx, "1_2", &extraction.TransactionIntent{ID: "x"}); err != nil {
		t.Fatalf("SetPending returned error: %v", err)
	}

	*current = current.Add(31 * time.Minute)
	if _, err := store.TakePending(ctx, "1_2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired session must never authorise execution, got %v", err)
	}
}

func TestTakePendingIsExclusive(t *testing.T) {
	store, _ := newTestStore(DefaultTTL)
	ctx := context.Background()

	if _, err := store.Touch(ctx, "1_2", false); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	if err := store.SetPending(ctx, "1_2", &extraction.TransactionIntent{ID: "x"}); err != nil {
		t.Fatalf("SetPending returned error: %v", err)
	}

	var taken int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.TakePending(ctx, "1_2"); err == nil {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if taken != 1 {
		t.Fatalf("intent must be taken exactly once, got %d", taken)
	}
}

func TestClearPendingDiscardsIntent(t *testing.T) {
	store, _ := newTestStore(DefaultTTL)
	ctx := context.Background()

	if _, err := store.Touch(ctx, "1_2", false); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	if err := store.SetPending(ctx, "1_2", &extraction.TransactionIntent{ID: "x"}); err != nil {
		t.Fatalf("SetPending returned error: %v", err)
	}
	if err := store.ClearPending(ctx, "1_2"); err != nil {
		t.Fatalf("ClearPending returned error: %v", err)
	}
	if _, err := store.TakePending(ctx, "1_2"); !errors.Is(err, ErrNoPending) {
		t.Fatalf("cleared intent must be gone, got %v", err)
	}
	// 会话本身保留，只有待确认意图被丢弃。
	if _, err := store.Get(ctx, "1_2"); err != nil {
		t.Fatalf("session should survive ClearPending: %v", err)
	}
}

func TestSetPendingRequiresSession(t *testing.T) {
	store, _ := newTestStore(DefaultTTL)
	err := store.SetPending(context.Background(), "missing", &extraction.TransactionIntent{ID: "x"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	store, _ := newTestStore(DefaultTTL)
	ctx := context.Background()

	for _, key := range []string{"1_1", "1_2", "2_1"} {
		if _, err := store.Touch(ctx, key, false); err != nil {
			t.Fatalf("Touch(%s) returned error: %v", key, err)
		}
	}
	if err := store.SetPending(ctx, "1_1", &extraction.TransactionIntent{ID: "x"}); err != nil {
		t.Fatalf("SetPending returned error: %v", err)
	}

	if _, err := store.TakePending(ctx, "1_2"); !errors.Is(err, ErrNoPending) {
		t.Fatalf("other sessions must not see the intent, got %v", err)
	}
	if _, err := store.TakePending(ctx, "1_1"); err != nil {
		t.Fatalf("owner session should take its intent: %v", err)
	}
}

func TestGetReturnsCopies(t *testing.T) {
	store, _ := newTestStore(DefaultTTL)
	ctx := context.Background()

	if _, err := store.Touch(ctx, "1_1", false); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	if err := store.SetPending(ctx, "1_1", &extraction.TransactionIntent{
		ID:    "x",
		Steps: []extraction.Step{{ContractAddress: "0xaa", Calldata: []string{"1"}}},
	}); err != nil {
		t.Fatalf("SetPending returned error: %v", err)
	}

	sess, err := store.Get(ctx, "1_1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	sess.Pending.Steps[0].Calldata[0] = "mutated"

	fresh, err := store.Get(ctx, "1_1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if fresh.Pending.Steps[0].Calldata[0] != "1" {
		t.Fatalf("stored intent was aliased to caller memory")
	}
}

func TestSweepRemovesStaleSessions(t *testing.T) {
	store, current := newTestStore(30 * time.Minute)
	ctx := context.Background()

	if _, err := store.Touch(ctx, "old", false); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	*current = current.Add(40 * time.Minute)
	if _, err := store.Touch(ctx, "fresh", false); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}

	store.sweep()

	store.mu.RLock()
	_, oldExists := store.sessions["old"]
	_, freshExists := store.sessions["fresh"]
	store.mu.RUnlock()
	if oldExists {
		t.Fatalf("stale session should be swept")
	}
	if !freshExists {
		t.Fatalf("fresh session should survive the sweep")
	}
}
