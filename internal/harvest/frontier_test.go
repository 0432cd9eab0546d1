package harvest

import (
	"sync"
	"testing"
	"time"

	"github.com/mwirth/immoharvest/internal/domain"
)

func unit(locator string) domain.WorkUnit {
	return domain.WorkUnit{Source: "test", Locator: locator, Kind: domain.UnitKindPage}
}

func TestFrontierPopReturnsQueuedUnits(t *testing.T) {
	f := newFrontier()
	f.Push(unit("a"))
	f.Push(unit("b"))

	got, ok := f.Pop()
	if !ok || got.Locator != "a" {
		t.Fatalf("first Pop = (%q, %v), want (a, true)", got.Locator, ok)
	}
	got, ok = f.Pop()
	if !ok || got.Locator != "b" {
		t.Fatalf("second Pop = (%q, %v), want (b, true)", got.Locator, ok)
	}
}

func TestFrontierExhaustionAfterDone(t *testing.T) {
	f := newFrontier()
	f.Push(unit("a"))

	if _, ok := f.Pop(); !ok {
		t.Fatal("Pop should return the queued unit")
	}
	f.Done()

	if _, ok := f.Pop(); ok {
		t.Fatal("Pop should report exhaustion once all units are done")
	}
}

func TestFrontierWaitsForInProcessChildren(t *testing.T) {
	f := newFrontier()
	f.Push(unit("parent"))

	if _, ok := f.Pop(); !ok {
		t.Fatal("Pop should return the parent")
	}

	// A second worker blocks while the parent is still in process: the
	// parent may yet discover children.
	popped := make(chan bool, 1)
	go func() {
		_, ok := f.Pop()
		popped <- ok
	}()

	select {
	case <-popped:
		t.Fatal("Pop returned while the parent was still in process")
	case <-time.After(50 * time.Millisecond):
	}

	f.Push(unit("child"))
	f.Done() // parent finished after pushing its child

	if ok := <-popped; !ok {
		t.Fatal("Pop should return the child discovered by the parent")
	}
}

func TestFrontierCloseUnblocksWaiters(t *testing.T) {
	f := newFrontier()
	f.Push(unit("a"))
	if _, ok := f.Pop(); !ok {
		t.Fatal("Pop should return the queued unit")
	}

	var wg sync.WaitGroup
	results := make(chan bool, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := f.Pop()
			results <- ok
		}()
	}

	f.Close()
	wg.Wait()
	close(results)

	for ok := range results {
		if ok {
			t.Error("Pop should return false after Close")
		}
	}
}

func TestFrontierRejectsPushAfterClose(t *testing.T) {
	f := newFrontier()
	f.Close()
	if f.Push(unit("late")) {
		t.Error("Push should be rejected after Close")
	}
}
