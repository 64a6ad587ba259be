package badger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/avisanghavi/keyvault/internal/common"
	"github.com/avisanghavi/keyvault/internal/models"
)

// --- Test helpers ---

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	logger := common.NewLogger("error")
	store, err := NewStore(logger, filepath.Join(dir, "badger"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testLogger() *common.Logger {
	return common.NewLogger("error")
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// --- Store tests ---

func TestStore_OpenClose(t *testing.T) {
	dir := t.TempDir()
	logger := testLogger()
	store, err := NewStore(logger, filepath.Join(dir, "badger"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if store.DB() == nil {
		t.Fatal("expected non-nil DB")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestStore_CloseNilDB(t *testing.T) {
	store := &Store{}
	if err := store.Close(); err != nil {
		t.Fatalf("Close on nil DB should not error: %v", err)
	}
}

func TestManager_PingAndStores(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(testLogger(), filepath.Join(dir, "badger"))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	if err := m.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if m.Credentials() == nil || m.Audit() == nil || m.Usage() == nil {
		t.Fatal("expected non-nil typed stores")
	}
}

// --- Credential storage tests ---

func TestCredentialStorage_CRUD(t *testing.T) {
	store := newTestStore(t)
	cs := NewCredentialStorage(store, testLogger())
	ctx := context.Background()

	// Get non-existent
	_, err := cs.Get(ctx, "alice", "openai")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Save
	cred := &models.Credential{
		UserID:           "alice",
		ServiceID:        "openai",
		Kind:             models.KindAPIKey,
		EncryptedPayload: []byte("ciphertext"),
	}
	if err := cs.Put(ctx, cred); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if cred.CreatedAt.IsZero() || cred.UpdatedAt.IsZero() {
		t.Fatal("Put should stamp timestamps")
	}

	// Get existing
	got, err := cs.Get(ctx, "alice", "openai")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Kind != models.KindAPIKey || string(got.EncryptedPayload) != "ciphertext" {
		t.Fatalf("unexpected credential: %+v", got)
	}

	// Replace
	created := got.CreatedAt
	cred2 := &models.Credential{
		UserID:           "alice",
		ServiceID:        "openai",
		Kind:             models.KindAPIKey,
		EncryptedPayload: []byte("ciphertext-v2"),
		CreatedAt:        created,
	}
	if err := cs.Put(ctx, cred2); err != nil {
		t.Fatalf("Put replace failed: %v", err)
	}
	got, err = cs.Get(ctx, "alice", "openai")
	if err != nil {
		t.Fatalf("Get after replace failed: %v", err)
	}
	if string(got.EncryptedPayload) != "ciphertext-v2" {
		t.Fatal("replace did not overwrite payload")
	}

	// Delete
	if err := cs.Delete(ctx, "alice", "openai"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := cs.Get(ctx, "alice", "openai"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// Delete missing
	if err := cs.Delete(ctx, "alice", "openai"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for repeated delete, got %v", err)
	}
}

func TestCredentialStorage_KeyIsolation(t *testing.T) {
	store := newTestStore(t)
	cs := NewCredentialStorage(store, testLogger())
	ctx := context.Background()

	// Composite keys must not collide across users and services.
	pairs := [][2]string{{"alice", "openai"}, {"alice", "google"}, {"bob", "openai"}}
	for _, p := range pairs {
		cred := &models.Credential{
			UserID:           p[0],
			ServiceID:        p[1],
			Kind:             models.KindAPIKey,
			EncryptedPayload: []byte(p[0] + "/" + p[1]),
		}
		if err := cs.Put(ctx, cred); err != nil {
			t.Fatalf("Put(%v) failed: %v", p, err)
		}
	}

	for _, p := range pairs {
		got, err := cs.Get(ctx, p[0], p[1])
		if err != nil {
			t.Fatalf("Get(%v) failed: %v", p, err)
		}
		if string(got.EncryptedPayload) != p[0]+"/"+p[1] {
			t.Fatalf("key collision for %v: got %s", p, got.EncryptedPayload)
		}
	}

	aliceCreds, err := cs.ListByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListByUser failed: %v", err)
	}
	if len(aliceCreds) != 2 {
		t.Fatalf("expected 2 credentials for alice, got %d", len(aliceCreds))
	}
}

func TestCredentialStorage_ListExpiring(t *testing.T) {
	store := newTestStore(t)
	cs := NewCredentialStorage(store, testLogger())
	ctx := context.Background()
	now := time.Now().UTC()

	creds := []*models.Credential{
		{UserID: "u1", ServiceID: "google", Kind: models.KindOAuth,
			EncryptedPayload: []byte("x"), ExpiresAt: timePtr(now.Add(2 * time.Minute))},
		{UserID: "u2", ServiceID: "google", Kind: models.KindOAuth,
			EncryptedPayload: []byte("x"), ExpiresAt: timePtr(now.Add(2 * time.Hour))},
		{UserID: "u3", ServiceID: "openai", Kind: models.KindAPIKey,
			EncryptedPayload: []byte("x")},
	}
	for _, c := range creds {
		if err := cs.Put(ctx, c); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	expiring, err := cs.ListExpiring(ctx, now.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("ListExpiring failed: %v", err)
	}
	if len(expiring) != 1 {
		t.Fatalf("expected 1 expiring credential, got %d", len(expiring))
	}
	if expiring[0].UserID != "u1" {
		t.Fatalf("expected u1, got %s", expiring[0].UserID)
	}
}

// --- Audit storage tests ---

func TestAuditStorage_AppendAndQuery(t *testing.T) {
	store := newTestStore(t)
	as := NewAuditStorage(store, testLogger())
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	events := []*models.AuditEvent{
		{UserID: "alice", Action: models.ActionStoreCredential, ServiceID: "openai", Success: true, Timestamp: base},
		{UserID: "alice", Action: models.ActionGetCredential, ServiceID: "openai", Success: true, Timestamp: base.Add(time.Minute)},
		{UserID: "bob", Action: models.ActionGetCredential, ServiceID: "google", Success: false, Error: "decryption failed", Timestamp: base.Add(2 * time.Minute)},
	}
	for _, e := range events {
		if err := as.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if e.ID == "" {
			t.Fatal("Append should assign an ID")
		}
	}

	all, err := as.Query(ctx, models.AuditFilter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	// Newest first
	if !all[0].Timestamp.After(all[1].Timestamp) {
		t.Fatal("expected newest-first ordering")
	}

	alice, err := as.Query(ctx, models.AuditFilter{UserID: "alice"})
	if err != nil {
		t.Fatalf("Query by user failed: %v", err)
	}
	if len(alice) != 2 {
		t.Fatalf("expected 2 alice events, got %d", len(alice))
	}

	failed, err := as.Query(ctx, models.AuditFilter{Action: models.ActionGetCredential, ServiceID: "google"})
	if err != nil {
		t.Fatalf("Query by action failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Error != "decryption failed" {
		t.Fatalf("unexpected filtered result: %+v", failed)
	}

	limited, err := as.Query(ctx, models.AuditFilter{Limit: 1})
	if err != nil {
		t.Fatalf("Query with limit failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 event, got %d", len(limited))
	}
}

func TestAuditStorage_Purge(t *testing.T) {
	store := newTestStore(t)
	as := NewAuditStorage(store, testLogger())
	ctx := context.Background()

	old := time.Now().UTC().Add(-100 * 24 * time.Hour)
	recent := time.Now().UTC()
	if err := as.Append(ctx, &models.AuditEvent{UserID: "a", Action: models.ActionRevoke, ServiceID: "s", Timestamp: old}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := as.Append(ctx, &models.AuditEvent{UserID: "a", Action: models.ActionRevoke, ServiceID: "s", Timestamp: recent}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	count, err := as.Purge(ctx, time.Now().UTC().Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 purged event, got %d", count)
	}

	remaining, err := as.Query(ctx, models.AuditFilter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining event, got %d", len(remaining))
	}
}

// --- Usage storage tests ---

func TestUsageStorage_IncrementAndGet(t *testing.T) {
	store := newTestStore(t)
	us := NewUsageStorage(store, testLogger())
	ctx := context.Background()

	now := time.Now().UTC()
	key := models.UsageKeyAt("alice", "openai", models.ActionGetCredential, now)

	if _, err := us.Get(ctx, key); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := us.Increment(ctx, key); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}

	counter, err := us.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if counter.Count != 3 {
		t.Fatalf("expected count 3, got %d", counter.Count)
	}
}

func TestUsageStorage_ConcurrentIncrement(t *testing.T) {
	store := newTestStore(t)
	us := NewUsageStorage(store, testLogger())
	ctx := context.Background()

	key := models.UsageKeyAt("alice", "openai", models.ActionGetCredential, time.Now().UTC())

	const workers = 8
	const perWorker = 25
	done := make(chan error, workers)
	for w := 0; w < workers; w++ {
		go func() {
			for i := 0; i < perWorker; i++ {
				if err := us.Increment(ctx, key); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
	}
	for w := 0; w < workers; w++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Increment failed: %v", err)
		}
	}

	counter, err := us.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if counter.Count != workers*perWorker {
		t.Fatalf("expected count %d, got %d", workers*perWorker, counter.Count)
	}
}

func TestUsageStorage_SumWindow(t *testing.T) {
	store := newTestStore(t)
	us := NewUsageStorage(store, testLogger())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Hour)
	hours := []time.Time{now.Add(-30 * time.Hour), now.Add(-2 * time.Hour), now}
	for _, h := range hours {
		key := models.UsageKeyAt("alice", "openai", models.ActionGetCredential, h)
		for i := 0; i < 2; i++ {
			if err := us.Increment(ctx, key); err != nil {
				t.Fatalf("Increment failed: %v", err)
			}
		}
	}
	// Different action must not count.
	other := models.UsageKeyAt("alice", "openai", models.ActionStoreCredential, now)
	if err := us.Increment(ctx, other); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}

	total, err := us.SumWindow(ctx, "alice", "openai", models.ActionGetCredential, now.Add(-24*time.Hour), now)
	if err != nil {
		t.Fatalf("SumWindow failed: %v", err)
	}
	if total != 4 {
		t.Fatalf("expected window total 4, got %d", total)
	}
}

func TestUsageStorage_QueryFilters(t *testing.T) {
	store := newTestStore(t)
	us := NewUsageStorage(store, testLogger())
	ctx := context.Background()

	now := time.Now().UTC()
	keys := []models.UsageKey{
		models.UsageKeyAt("alice", "openai", models.ActionGetCredential, now),
		models.UsageKeyAt("alice", "google", models.ActionGetCredential, now),
		models.UsageKeyAt("bob", "openai", models.ActionGetCredential, now),
	}
	for _, k := range keys {
		if err := us.Increment(ctx, k); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}

	alice, err := us.Query(ctx, models.UsageFilter{UserID: "alice"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(alice) != 2 {
		t.Fatalf("expected 2 counters for alice, got %d", len(alice))
	}

	openai, err := us.Query(ctx, models.UsageFilter{UserID: "alice", ServiceID: "openai"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(openai) != 1 {
		t.Fatalf("expected 1 counter, got %d", len(openai))
	}
}
