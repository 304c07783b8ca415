package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcher_RunsTasks(t *testing.T) {
	d := NewDispatcher(2, 8)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		if !d.Go("count", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}) {
			t.Fatal("Expected task to be queued")
		}
	}

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if ran.Load() != 5 {
		t.Errorf("Expected 5 tasks run, got %d", ran.Load())
	}
	if stats := d.Stats(); stats.Completed != 5 || stats.Failed != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(1, 1)

	started := make(chan struct{})
	release := make(chan struct{})
	d.Go("block", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	if !d.Go("queued", func(ctx context.Context) error { return nil }) {
		t.Fatal("Expected second task to fit in the queue")
	}

	begin := time.Now()
	if d.Go("dropped", func(ctx context.Context) error { return nil }) {
		t.Error("Expected third task to be dropped")
	}
	if time.Since(begin) > 100*time.Millisecond {
		t.Error("Go blocked on a full queue")
	}

	close(release)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if stats := d.Stats(); stats.Dropped != 1 || stats.Completed != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestDispatcher_ErrorsAndPanicsAreContained(t *testing.T) {
	d := NewDispatcher(1, 4)

	d.Go("fails", func(ctx context.Context) error { return errors.New("smtp down") })
	d.Go("panics", func(ctx context.Context) error { panic("boom") })

	var ran atomic.Bool
	d.Go("after", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !ran.Load() {
		t.Error("Worker did not survive a failing task")
	}
	if stats := d.Stats(); stats.Failed != 2 || stats.Completed != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestDispatcher_CloseTimeout(t *testing.T) {
	d := NewDispatcher(1, 1)

	started := make(chan struct{})
	d.Go("slow", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := d.Close(ctx); err == nil {
		t.Error("Expected timeout error from Close")
	}
}

func TestDispatcher_GoAfterClose(t *testing.T) {
	d := NewDispatcher(1, 1)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if d.Go("late", func(ctx context.Context) error { return nil }) {
		t.Error("Expected task to be rejected after Close")
	}
	if err := d.Close(context.Background()); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}

func TestDispatcher_KeyedTasksRunInOrder(t *testing.T) {
	d := NewDispatcher(4, 512)

	var mu sync.Mutex
	seen := make(map[string][]int)
	keys := []string{"lobby/1", "lobby/2", "gate/1", "gate/7", "dock/3"}

	for i := 0; i < 100; i++ {
		for _, key := range keys {
			if !d.GoKeyed(key, "record", func(ctx context.Context) error {
				// jitter so unordered workers would interleave
				if i%7 == 0 {
					time.Sleep(time.Millisecond)
				}
				mu.Lock()
				seen[key] = append(seen[key], i)
				mu.Unlock()
				return nil
			}) {
				t.Fatalf("Expected task %s/%d to be queued", key, i)
			}
		}
	}

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, key := range keys {
		got := seen[key]
		if len(got) != 100 {
			t.Fatalf("Expected 100 tasks for %s, got %d", key, len(got))
		}
		for i, v := range got {
			if v != i {
				t.Fatalf("Key %s: expected task %d at position %d, got %d", key, i, i, v)
			}
		}
	}
}

func TestDispatcher_StatsSumAllQueues(t *testing.T) {
	d := NewDispatcher(2, 4)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		d.Go("block", func(ctx context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		})
	}
	<-started
	<-started

	for i := 0; i < 3; i++ {
		d.Go("queued", func(ctx context.Context) error { return nil })
	}
	if stats := d.Stats(); stats.Queued != 3 || stats.Workers != 2 {
		t.Errorf("Expected 3 queued on 2 workers, got %+v", stats)
	}

	close(release)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if stats := d.Stats(); stats.Completed != 5 || stats.Queued != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}
