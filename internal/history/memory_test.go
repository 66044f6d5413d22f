package history

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRepositoryAppendAndList(t *testing.T) {
	repo := NewMemoryRepository()
	base := time.Unix(1_700_000_000, 0)
	current := base
	repo.now = func() time.Time { return current }

	ctx := context.Background()
	records := []*Record{
		{ID: "a", SessionKey: "1_1", WalletAddress: "0x01", Action: "swap", Outcome: OutcomeSucceeded, TxHash: "0xaa"},
		{ID: "b", SessionKey: "1_1", WalletAddress: "0x01", Action: "transfer", Outcome: OutcomeFailed, FailureCode: "EXECUTION_FAILURE"},
		{ID: "c", SessionKey: "2_2", WalletAddress: "0x02", Action: "send", Outcome: OutcomeSucceeded, TxHash: "0xcc"},
	}
	for i, record := range records {
		current = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Append(ctx, record); err != nil {
			t.Fatalf("Append(%s) returned error: %v", record.ID, err)
		}
	}

	listed, err := repo.List(ctx, ListOptions{SessionKey: "1_1"})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 records for session, got %d", len(listed))
	}
	if listed[0].ID != "b" || listed[1].ID != "a" {
		t.Fatalf("records not in reverse chronological order: %s, %s", listed[0].ID, listed[1].ID)
	}

	all, err := repo.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
}

func TestMemoryRepositoryListLimit(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	for _, id := range []string{"x", "y", "z"} {
		if err := repo.Append(ctx, &Record{ID: id, SessionKey: "1_1", Outcome: OutcomeSucceeded}); err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}
	listed, err := repo.List(ctx, ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected limit to cap results at 2, got %d", len(listed))
	}
}

func TestMemoryRepositoryRejectsInvalidRecord(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	if err := repo.Append(ctx, nil); err == nil {
		t.Fatalf("expected error for nil record")
	}
	if err := repo.Append(ctx, &Record{SessionKey: "1_1"}); err == nil {
		t.Fatalf("expected error for missing ID")
	}
}

func TestMemoryRepositoryCopiesRecords(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	original := &Record{ID: "a", SessionKey: "1_1", TxHash: "0xaa", Outcome: OutcomeSucceeded}
	if err := repo.Append(ctx, original); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	original.TxHash = "mutated"

	listed, err := repo.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if listed[0].TxHash != "0xaa" {
		t.Fatalf("stored record was aliased to caller memory")
	}
	listed[0].TxHash = "mutated-again"

	relisted, err := repo.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if relisted[0].TxHash != "0xaa" {
		t.Fatalf("listed record was aliased to repository memory")
	}
}
