package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"agentmesh/internal/domain"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "agentmesh.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newSessionStore(t *testing.T) *SQLiteSessionStore {
	t.Helper()
	s, err := NewSQLiteSessionStore(newTestDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteSessionStore: %v", err)
	}
	return s
}

func testSession(id string, expiresIn time.Duration) *domain.Session {
	now := time.Now().UTC()
	return &domain.Session{
		ID:          id,
		AgentID:     "a1",
		TenantID:    "t1",
		ContextID:   "order-42",
		ContextType: "order",
		Status:      domain.SessionStatusActive,
		StartedAt:   now,
		ExpiresAt:   now.Add(expiresIn),
	}
}

func TestSessionStoreCreateGet(t *testing.T) {
	store := newSessionStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, testSession("s1", time.Hour)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AgentID != "a1" || got.TenantID != "t1" {
		t.Errorf("ownership = (%q, %q), want (a1, t1)", got.AgentID, got.TenantID)
	}
	if got.Status != domain.SessionStatusActive {
		t.Errorf("Status = %q, want active", got.Status)
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt should be nil for a fresh session")
	}
}

func TestSessionStoreGetMissing(t *testing.T) {
	store := newSessionStore(t)

	_, err := store.Get(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStoreUpdateStatus(t *testing.T) {
	store := newSessionStore(t)
	ctx := context.Background()

	store.Create(ctx, testSession("s1", time.Hour))

	now := time.Now().UTC()
	if err := store.UpdateStatus(ctx, "s1", domain.SessionStatusCompleted, &now); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, _ := store.Get(ctx, "s1")
	if got.Status != domain.SessionStatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}

	if err := store.UpdateStatus(ctx, "ghost", domain.SessionStatusError, &now); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStoreUpdateStatusTerminalIsFinal(t *testing.T) {
	store := newSessionStore(t)
	ctx := context.Background()

	store.Create(ctx, testSession("s1", -time.Minute))

	// The sweeper expires the session to error in the store.
	swept, err := store.ExpireBefore(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpireBefore: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	// A runtime holding a stale in-memory copy cannot reopen or
	// overwrite the terminal state.
	now := time.Now().UTC()
	if err := store.UpdateStatus(ctx, "s1", domain.SessionStatusCompleted, &now); !errors.Is(err, domain.ErrSessionTerminal) {
		t.Errorf("err = %v, want ErrSessionTerminal", err)
	}

	got, _ := store.Get(ctx, "s1")
	if got.Status != domain.SessionStatusError {
		t.Errorf("Status = %q, want error to stick", got.Status)
	}
}

func TestSessionStoreExpireBefore(t *testing.T) {
	store := newSessionStore(t)
	ctx := context.Background()

	store.Create(ctx, testSession("stale", -time.Minute))
	store.Create(ctx, testSession("fresh", time.Hour))

	done := testSession("done", -time.Minute)
	store.Create(ctx, done)
	now := time.Now().UTC()
	store.UpdateStatus(ctx, "done", domain.SessionStatusCompleted, &now)

	swept, err := store.ExpireBefore(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpireBefore: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}

	stale, _ := store.Get(ctx, "stale")
	if stale.Status != domain.SessionStatusError {
		t.Errorf("stale status = %q, want error", stale.Status)
	}
	fresh, _ := store.Get(ctx, "fresh")
	if fresh.Status != domain.SessionStatusActive {
		t.Errorf("fresh status = %q, want active", fresh.Status)
	}
	// Already-terminal sessions are untouched.
	doneGot, _ := store.Get(ctx, "done")
	if doneGot.Status != domain.SessionStatusCompleted {
		t.Errorf("done status = %q, want completed", doneGot.Status)
	}
}

func newInteractionStore(t *testing.T) *SQLiteInteractionStore {
	t.Helper()
	s, err := NewSQLiteInteractionStore(newTestDB(t))
	if err != nil {
		t.Fatalf("NewSQLiteInteractionStore: %v", err)
	}
	return s
}

func testInteraction(id, tenantID, agentID string) *domain.Interaction {
	return &domain.Interaction{
		ID:                id,
		AgentID:           agentID,
		TenantID:          tenantID,
		Skill:             "echo",
		Input:             map[string]any{"msg": "hi"},
		Output:            map[string]any{"echoed": "hi"},
		DurationMS:        12,
		Success:           true,
		CommunicationType: domain.CommunicationInternal,
		CreatedAt:         time.Now().UTC(),
	}
}

func TestInteractionStoreAppendList(t *testing.T) {
	store := newInteractionStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, testInteraction("i1", "t1", "a1")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	store.Append(ctx, testInteraction("i2", "t1", "a1"))
	store.Append(ctx, testInteraction("i3", "t2", "a2"))

	recs, err := store.ListByAgent(ctx, "t1", "a1", 10)
	if err != nil {
		t.Fatalf("ListByAgent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].Input["msg"] != "hi" {
		t.Errorf("Input roundtrip failed: %v", recs[0].Input)
	}
	if !recs[0].Success {
		t.Error("Success should survive roundtrip")
	}

	n, err := store.CountByAgent(ctx, "t1", "a1")
	if err != nil {
		t.Fatalf("CountByAgent: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestInteractionStoreFailureRecord(t *testing.T) {
	store := newInteractionStore(t)
	ctx := context.Background()

	rec := testInteraction("i1", "t1", "a1")
	rec.Success = false
	rec.ErrorMessage = "skill execution failed: upstream timeout"
	rec.CommunicationType = domain.CommunicationExternal
	rec.TargetTenantID = "t2"
	rec.AgentCalled = "b1"
	if err := store.Append(ctx, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recs, _ := store.ListByAgent(ctx, "t1", "a1", 1)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	got := recs[0]
	if got.Success {
		t.Error("Success = true, want false")
	}
	if got.ErrorMessage == "" {
		t.Error("ErrorMessage lost")
	}
	if got.TargetTenantID != "t2" || got.AgentCalled != "b1" {
		t.Errorf("communication descriptor = (%q, %q)", got.TargetTenantID, got.AgentCalled)
	}
}

func TestInteractionStoreTenantScoping(t *testing.T) {
	store := newInteractionStore(t)
	ctx := context.Background()

	store.Append(ctx, testInteraction("i1", "t1", "a1"))

	recs, err := store.ListByAgent(ctx, "t2", "a1", 10)
	if err != nil {
		t.Fatalf("ListByAgent: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("cross-tenant list = %d records, want 0", len(recs))
	}
}
