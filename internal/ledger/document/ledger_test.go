package document

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/expoarte/registrar/internal/domain"
)

func newTestLedger(t *testing.T) (*Ledger, string, context.Context) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "submissions.json")
	ledger := New(path, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ledger.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return ledger, path, context.Background()
}

func TestUpsert_CreatesRecord(t *testing.T) {
	ledger, _, ctx := newTestLedger(t)
	identity := uuid.New()

	rec, err := ledger.Upsert(ctx, identity, domain.Stage1, json.RawMessage(`{"email":"a@x.com","name":"Ana"}`))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if rec.Identity != identity {
		t.Errorf("identity = %v, want %v", rec.Identity, identity)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("created_at not set on creation")
	}
	if rec.LastUpdatedAt != nil {
		t.Error("last_updated_at must be absent on a fresh record")
	}
	if !rec.Has(domain.Stage1) || rec.Has(domain.Stage2) {
		t.Errorf("stages = %v, want only stage1", rec.Stages)
	}
}

func TestUpsert_MergePreservesOtherStages(t *testing.T) {
	ledger, _, ctx := newTestLedger(t)
	identity := uuid.New()

	if _, err := ledger.Upsert(ctx, identity, domain.Stage1, json.RawMessage(`{"email":"a@x.com"}`)); err != nil {
		t.Fatalf("stage1 upsert failed: %v", err)
	}
	rec, err := ledger.Upsert(ctx, identity, domain.Stage2, json.RawMessage(`{"link":"http://port.io"}`))
	if err != nil {
		t.Fatalf("stage2 upsert failed: %v", err)
	}

	if string(rec.Stages[domain.Stage1]) != `{"email":"a@x.com"}` {
		t.Errorf("stage1 payload altered by stage2 merge: %s", rec.Stages[domain.Stage1])
	}
	if string(rec.Stages[domain.Stage2]) != `{"link":"http://port.io"}` {
		t.Errorf("stage2 payload = %s", rec.Stages[domain.Stage2])
	}
	if rec.LastUpdatedAt == nil {
		t.Fatal("last_updated_at not set on merge")
	}
	if rec.LastUpdatedAt.Before(rec.CreatedAt) {
		t.Error("last_updated_at before created_at")
	}
}

func TestUpsert_ResubmitReplacesStage(t *testing.T) {
	ledger, _, ctx := newTestLedger(t)
	identity := uuid.New()

	if _, err := ledger.Upsert(ctx, identity, domain.Stage1, json.RawMessage(`{"name":"Ana"}`)); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	rec, err := ledger.Upsert(ctx, identity, domain.Stage1, json.RawMessage(`{"name":"Ana Maria"}`))
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}

	if string(rec.Stages[domain.Stage1]) != `{"name":"Ana Maria"}` {
		t.Errorf("resubmit did not replace stage payload: %s", rec.Stages[domain.Stage1])
	}

	all, err := ledger.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("resubmit created a second record, got %d", len(all))
	}
}

func TestLoadAll_InsertionOrder(t *testing.T) {
	ledger, _, ctx := newTestLedger(t)

	var want []uuid.UUID
	for i := 0; i < 5; i++ {
		id := uuid.New()
		want = append(want, id)
		if _, err := ledger.Upsert(ctx, id, domain.Stage1, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("upsert %d failed: %v", i, err)
		}
	}

	all, err := ledger.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(all) != len(want) {
		t.Fatalf("got %d records, want %d", len(all), len(want))
	}
	for i, rec := range all {
		if rec.Identity != want[i] {
			t.Errorf("record %d identity = %v, want %v", i, rec.Identity, want[i])
		}
	}
}

func TestLoadAll_MissingFile(t *testing.T) {
	ledger, _, ctx := newTestLedger(t)

	all, err := ledger.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected empty sequence, got %d records", len(all))
	}
}

func TestLoadAll_EmptyAndCorruptFile(t *testing.T) {
	for _, content := range []string{"", "{not json"} {
		path := filepath.Join(t.TempDir(), "submissions.json")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}

		ledger := New(path, 1)
		all, err := ledger.LoadAll(context.Background())
		if err != nil {
			t.Fatalf("LoadAll(%q) failed: %v", content, err)
		}
		if len(all) != 0 {
			t.Errorf("LoadAll(%q) = %d records, want 0", content, len(all))
		}
	}
}

func TestFindByIdentity(t *testing.T) {
	ledger, _, ctx := newTestLedger(t)
	identity := uuid.New()

	if _, err := ledger.Upsert(ctx, identity, domain.Stage1, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	rec, err := ledger.FindByIdentity(ctx, identity)
	if err != nil {
		t.Fatalf("FindByIdentity failed: %v", err)
	}
	if rec.Identity != identity {
		t.Errorf("identity = %v, want %v", rec.Identity, identity)
	}

	if _, err := ledger.FindByIdentity(ctx, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown identity err = %v, want ErrNotFound", err)
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	ledger, path, ctx := newTestLedger(t)
	identity := uuid.New()

	if _, err := ledger.Upsert(ctx, identity, domain.Stage1, json.RawMessage(`{"email":"a@x.com"}`)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	// A fresh ledger over the same path must see the record.
	reopened := New(path, 1)
	rec, err := reopened.FindByIdentity(ctx, identity)
	if err != nil {
		t.Fatalf("FindByIdentity after reopen failed: %v", err)
	}
	if string(rec.Stages[domain.Stage1]) != `{"email":"a@x.com"}` {
		t.Errorf("payload lost across restart: %s", rec.Stages[domain.Stage1])
	}
}

func TestWriteKeepsPayloadBytesVerbatim(t *testing.T) {
	ledger, path, ctx := newTestLedger(t)
	identity := uuid.New()

	payload := `{"email":"a@x.com","tags":["vip","press"]}`
	if _, err := ledger.Upsert(ctx, identity, domain.Stage1, json.RawMessage(payload)); err != nil {
		t.Fatalf("stage1 upsert failed: %v", err)
	}
	// A second upsert re-reads the persisted document before writing,
	// so the stage1 bytes below have been through a full round trip.
	if _, err := ledger.Upsert(ctx, identity, domain.Stage2, json.RawMessage(`{"link":"http://port.io"}`)); err != nil {
		t.Fatalf("stage2 upsert failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), payload) {
		t.Errorf("persisted document altered the submitted payload bytes:\n%s", data)
	}
}

func TestPingContext_DoesNotTouchDisk(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	ledger := New(filepath.Join(dir, "submissions.json"), 1)

	if err := ledger.PingContext(context.Background()); err != nil {
		t.Fatalf("ping on missing file failed: %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Error("health probe created the data directory")
	}
}

func TestConcurrentUpserts_NoLostUpdates(t *testing.T) {
	ledger, _, ctx := newTestLedger(t)

	const n = 25
	identities := make([]uuid.UUID, n)
	for i := range identities {
		identities[i] = uuid.New()
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, id := range identities {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if _, err := ledger.Upsert(ctx, id, domain.Stage1, json.RawMessage(`{"email":"a@x.com"}`)); err != nil {
				errs <- err
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent upsert failed: %v", err)
	}

	all, err := ledger.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(all) != n {
		t.Fatalf("lost updates: got %d records, want %d", len(all), n)
	}

	seen := make(map[uuid.UUID]bool, n)
	for _, rec := range all {
		if !rec.Has(domain.Stage1) {
			t.Errorf("record %v missing stage1 payload", rec.Identity)
		}
		seen[rec.Identity] = true
	}
	if len(seen) != n {
		t.Errorf("got %d distinct identities, want %d", len(seen), n)
	}
}

func TestUpsert_WriteFailureSurfaces(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("write permission checks do not apply to root")
	}

	dir := t.TempDir()
	if err := os.Chmod(dir, 0o555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	ledger := New(filepath.Join(dir, "submissions.json"), 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ledger.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	if _, err := ledger.Upsert(context.Background(), uuid.New(), domain.Stage1, json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected write failure to surface, got nil")
	}
}

func TestUpsert_ContextCancelled(t *testing.T) {
	// No worker running: Upsert must respect the caller's context.
	ledger := New(filepath.Join(t.TempDir(), "submissions.json"), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Fill the queue so the send blocks.
	for i := 0; i < defaultQueueSize; i++ {
		ledger.requests <- upsertRequest{}
	}

	_, err := ledger.Upsert(ctx, uuid.New(), domain.Stage1, json.RawMessage(`{}`))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}
