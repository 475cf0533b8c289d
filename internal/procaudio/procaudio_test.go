package procaudio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/haldis/rewind/internal/capture"
)

func TestOnAddedSynthesizesForPreexisting(t *testing.T) {
	discovery := capture.NewFakeProcessAudioDiscovery([]int{42}, nil, nil)

	var mu sync.Mutex
	started := map[int]bool{}
	factory := func(ctx context.Context, pid int, includeTree bool) (func(), error) {
		mu.Lock()
		started[pid] = true
		mu.Unlock()
		return func() {}, nil
	}

	w := New(discovery, factory, 50*time.Millisecond, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		ok := started[42]
		mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected a recorder to start for the preexisting pid")
}

func TestDuplicateAddIsNoOp(t *testing.T) {
	discovery := capture.NewFakeProcessAudioDiscovery(nil, nil, nil)

	var mu sync.Mutex
	startCount := 0
	factory := func(ctx context.Context, pid int, includeTree bool) (func(), error) {
		mu.Lock()
		startCount++
		mu.Unlock()
		return func() {}, nil
	}

	w := New(discovery, factory, 50*time.Millisecond, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	discovery.Emit(capture.ProcessAudioEvent{PID: 7, Added: true})
	time.Sleep(30 * time.Millisecond)
	discovery.Emit(capture.ProcessAudioEvent{PID: 7, Added: true})
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if startCount != 1 {
		t.Fatalf("expected exactly one start for a duplicate add, got %d", startCount)
	}
}

func TestTeardownIsDebounced(t *testing.T) {
	discovery := capture.NewFakeProcessAudioDiscovery(nil, nil, nil)

	var mu sync.Mutex
	stopped := false
	factory := func(ctx context.Context, pid int, includeTree bool) (func(), error) {
		return func() {
			mu.Lock()
			stopped = true
			mu.Unlock()
		}, nil
	}

	debounce := 100 * time.Millisecond
	w := New(discovery, factory, debounce, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	discovery.Emit(capture.ProcessAudioEvent{PID: 9, Added: true})
	time.Sleep(20 * time.Millisecond)
	discovery.Emit(capture.ProcessAudioEvent{PID: 9, Gone: true})

	time.Sleep(debounce / 2)
	mu.Lock()
	stillUp := !stopped
	mu.Unlock()
	if !stillUp {
		t.Fatal("expected teardown to be debounced, not immediate")
	}

	time.Sleep(debounce)
	mu.Lock()
	defer mu.Unlock()
	if !stopped {
		t.Fatal("expected teardown to complete after the debounce window")
	}
}

func TestReAddCancelsScheduledTeardown(t *testing.T) {
	discovery := capture.NewFakeProcessAudioDiscovery(nil, nil, nil)

	var mu sync.Mutex
	starts, stops := 0, 0
	factory := func(ctx context.Context, pid int, includeTree bool) (func(), error) {
		mu.Lock()
		starts++
		mu.Unlock()
		return func() {
			mu.Lock()
			stops++
			mu.Unlock()
		}, nil
	}

	debounce := 100 * time.Millisecond
	w := New(discovery, factory, debounce, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	discovery.Emit(capture.ProcessAudioEvent{PID: 3, Added: true})
	time.Sleep(20 * time.Millisecond)
	discovery.Emit(capture.ProcessAudioEvent{PID: 3, Expired: true})
	time.Sleep(20 * time.Millisecond)
	discovery.Emit(capture.ProcessAudioEvent{PID: 3, Added: true})

	time.Sleep(debounce + 50*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if stops != 0 {
		t.Fatalf("expected the scheduled teardown to be canceled by the re-add, got %d stops", stops)
	}
	if starts != 1 {
		t.Fatalf("expected exactly one start since the recorder was never torn down, got %d", starts)
	}
}
