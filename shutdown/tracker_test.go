package shutdown

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTracker_StartDone(t *testing.T) {
	tracker := NewOperationTracker()

	if !tracker.Start() {
		t.Fatal("Start must succeed on an open tracker")
	}
	if tracker.ActiveCount() != 1 {
		t.Errorf("active = %d, want 1", tracker.ActiveCount())
	}
	tracker.Done()
	if tracker.ActiveCount() != 0 {
		t.Errorf("active = %d, want 0", tracker.ActiveCount())
	}
}

func TestTracker_RejectsAfterClose(t *testing.T) {
	tracker := NewOperationTracker()
	tracker.Close()

	if tracker.Start() {
		t.Error("Start must fail on a closed tracker")
	}
	if !tracker.IsClosed() {
		t.Error("IsClosed must report true")
	}
}

func TestTracker_WaitCompletes(t *testing.T) {
	tracker := NewOperationTracker()
	tracker.Start()

	go func() {
		time.Sleep(20 * time.Millisecond)
		tracker.Done()
	}()

	if err := tracker.Wait(time.Second); err != nil {
		t.Errorf("expected Wait to succeed, got: %v", err)
	}
}

func TestTracker_WaitTimesOut(t *testing.T) {
	tracker := NewOperationTracker()
	tracker.Start()
	defer tracker.Done()

	if err := tracker.Wait(20 * time.Millisecond); !errors.Is(err, ErrWaitTimeout) {
		t.Errorf("expected ErrWaitTimeout, got: %v", err)
	}
}

func TestTracker_ConcurrentStarts(t *testing.T) {
	tracker := NewOperationTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.Start() {
				tracker.Done()
			}
		}()
	}
	wg.Wait()

	if tracker.ActiveCount() != 0 {
		t.Errorf("active = %d after all done, want 0", tracker.ActiveCount())
	}
}
