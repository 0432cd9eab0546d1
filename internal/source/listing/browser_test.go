package listing

import (
	"testing"
	"time"

	"github.com/mwirth/immoharvest/internal/config"
)

func TestBrowserPoolSizedByPageWorkers(t *testing.T) {
	cfg := testSourceConfig()
	b := NewBrowser(cfg, &config.HarvestConfig{
		PageWorkers: 3,
		PageTimeout: time.Second,
		MaxPages:    5,
	})

	if b.size != 3 {
		t.Errorf("pool size = %d, want 3", b.size)
	}
	if got := len(b.allocs); got != 3 {
		t.Errorf("pool holds %d allocators, want 3", got)
	}
	for _, alloc := range drainAllocators(b) {
		if alloc.cancel == nil {
			t.Fatal("pooled allocator has no cancel func")
		}
		b.allocs <- alloc
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := len(b.allocs); got != 0 {
		t.Errorf("pool holds %d allocators after Close, want 0", got)
	}
	// Close is idempotent and must not block on the already drained pool.
	if err := b.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestBrowserPoolHasAtLeastOneAllocator(t *testing.T) {
	cfg := testSourceConfig()
	b := NewBrowser(cfg, &config.HarvestConfig{PageWorkers: 0, PageTimeout: time.Second})
	defer b.Close()

	if b.size != 1 || len(b.allocs) != 1 {
		t.Errorf("pool size = %d with %d allocators, want 1 and 1", b.size, len(b.allocs))
	}
}

func drainAllocators(b *Browser) []*allocator {
	out := make([]*allocator, 0, len(b.allocs))
	for len(b.allocs) > 0 {
		out = append(out, <-b.allocs)
	}
	return out
}
