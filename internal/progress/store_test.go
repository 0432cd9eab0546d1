package progress

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/mwirth/immoharvest/internal/config"
	"github.com/mwirth/immoharvest/internal/domain"
)

func openTestStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := Open(&config.ProgressConfig{
		Driver:          "sqlite",
		Path:            filepath.Join(t.TempDir(), "progress.db"),
		MaxIdleConns:    1,
		MaxOpenConns:    2,
		ConnMaxLifetime: time.Hour,
		AutoMigrate:     true,
	})
	if err != nil {
		t.Fatalf("failed to open progress store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMarkCompletedThenIsCompleted(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	done, err := store.IsCompleted(ctx, "src", domain.EntryKindUnit, "http://x/1")
	if err != nil {
		t.Fatalf("IsCompleted failed: %v", err)
	}
	if done {
		t.Fatal("key completed before any mark")
	}

	if err := store.MarkCompleted(ctx, "src", domain.EntryKindUnit, "http://x/1", 1); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	done, err = store.IsCompleted(ctx, "src", domain.EntryKindUnit, "http://x/1")
	if err != nil || !done {
		t.Fatalf("IsCompleted after mark = (%v, %v), want (true, nil)", done, err)
	}
}

func TestMarkCompletedIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.MarkCompleted(ctx, "src", domain.EntryKindUnit, "http://x/1", i+1); err != nil {
			t.Fatalf("MarkCompleted #%d failed: %v", i+1, err)
		}
	}

	keys := loadKeys(t, store, "src", domain.EntryKindUnit)
	if len(keys) != 1 {
		t.Errorf("LoadCompleted yielded %d keys after repeated marks, want 1", len(keys))
	}
}

func TestFailedEntriesAreNotCompletions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.MarkFailed(ctx, "src", domain.EntryKindUnit, "http://x/1", 3, "budget exhausted"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	done, err := store.IsCompleted(ctx, "src", domain.EntryKindUnit, "http://x/1")
	if err != nil {
		t.Fatalf("IsCompleted failed: %v", err)
	}
	if done {
		t.Error("a failed entry must never read as completed")
	}

	// A later run may succeed where this one failed: a Completed entry can
	// still be appended next to the Failed one.
	if err := store.MarkCompleted(ctx, "src", domain.EntryKindUnit, "http://x/1", 1); err != nil {
		t.Fatalf("MarkCompleted after MarkFailed failed: %v", err)
	}
	done, _ = store.IsCompleted(ctx, "src", domain.EntryKindUnit, "http://x/1")
	if !done {
		t.Error("completion appended after a failure must be visible")
	}
}

func TestLoadCompletedScopesSourceAndKind(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.MarkCompleted(ctx, "alpha", domain.EntryKindUnit, "u1", 1)
	store.MarkCompleted(ctx, "alpha", domain.EntryKindAsset, "a1", 1)
	store.MarkCompleted(ctx, "beta", domain.EntryKindUnit, "u2", 1)

	keys := loadKeys(t, store, "alpha", domain.EntryKindUnit)
	if len(keys) != 1 || keys[0] != "u1" {
		t.Errorf("LoadCompleted(alpha, unit) = %v, want [u1]", keys)
	}
}

func TestLoadCompletedStreamsLargeSets(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// More keys than one load batch to exercise the pagination path.
	total := loadBatchSize + 50
	for i := 0; i < total; i++ {
		if err := store.MarkCompleted(ctx, "src", domain.EntryKindUnit, "http://x/"+strconv.Itoa(i), 1); err != nil {
			t.Fatalf("MarkCompleted #%d failed: %v", i, err)
		}
	}

	keys := loadKeys(t, store, "src", domain.EntryKindUnit)
	if len(keys) != total {
		t.Errorf("LoadCompleted yielded %d keys, want %d", len(keys), total)
	}
}

func TestPendingAssetLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.MarkPending(ctx, "src", domain.EntryKindAsset, "l1/image_1.jpg", "http://img/1.jpg"); err != nil {
		t.Fatalf("MarkPending failed: %v", err)
	}
	// A later run re-discovers the same asset; the re-mark is a no-op.
	if err := store.MarkPending(ctx, "src", domain.EntryKindAsset, "l1/image_1.jpg", "http://img/1.jpg"); err != nil {
		t.Fatalf("repeated MarkPending failed: %v", err)
	}

	pending := loadPending(t, store, "src", domain.EntryKindAsset)
	if len(pending) != 1 || pending["l1/image_1.jpg"] != "http://img/1.jpg" {
		t.Fatalf("LoadPending = %v, want the single discovered asset with its URL", pending)
	}

	if err := store.MarkCompleted(ctx, "src", domain.EntryKindAsset, "l1/image_1.jpg", 1); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if got := loadPending(t, store, "src", domain.EntryKindAsset); len(got) != 0 {
		t.Errorf("completed asset still pending: %v", got)
	}
}

func TestPendingHiddenByTerminalFailure(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.MarkPending(ctx, "src", domain.EntryKindAsset, "l1/image_1.jpg", "http://img/1.jpg")
	store.MarkPending(ctx, "src", domain.EntryKindAsset, "l1/image_2.jpg", "http://img/2.jpg")
	if err := store.MarkFailed(ctx, "src", domain.EntryKindAsset, "l1/image_1.jpg", 3, "gone"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	pending := loadPending(t, store, "src", domain.EntryKindAsset)
	if len(pending) != 1 {
		t.Fatalf("LoadPending yielded %d keys, want 1", len(pending))
	}
	if _, ok := pending["l1/image_2.jpg"]; !ok {
		t.Errorf("LoadPending = %v, want only the undecided asset", pending)
	}
}

func TestSaveReport(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()
	report := &domain.SourceReport{
		RunID:          "run-1",
		Source:         "src",
		UnitsAttempted: 10,
		UnitsCompleted: 8,
		UnitsFailed:    2,
		StartedAt:      now.Add(-time.Minute),
		FinishedAt:     &now,
	}
	if err := store.SaveReport(context.Background(), report); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	var got domain.SourceReport
	if err := store.db.Where("run_id = ?", "run-1").First(&got).Error; err != nil {
		t.Fatalf("failed to read back report: %v", err)
	}
	if got.UnitsCompleted != 8 || got.Source != "src" {
		t.Errorf("read back report = %+v", got)
	}
}

func loadPending(t *testing.T, store *GormStore, src string, kind domain.EntryKind) map[string]string {
	t.Helper()
	got := make(map[string]string)
	err := store.LoadPending(context.Background(), src, kind, func(key, ref string) error {
		got[key] = ref
		return nil
	})
	if err != nil {
		t.Fatalf("LoadPending failed: %v", err)
	}
	return got
}

func loadKeys(t *testing.T, store *GormStore, src string, kind domain.EntryKind) []string {
	t.Helper()
	var keys []string
	err := store.LoadCompleted(context.Background(), src, kind, func(key string) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatalf("LoadCompleted failed: %v", err)
	}
	return keys
}
