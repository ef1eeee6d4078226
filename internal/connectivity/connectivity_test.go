package connectivity

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestProbe_FiresOnDownToUp(t *testing.T) {
	var reachable atomic.Bool
	var upCalls atomic.Int32

	p := NewProbe(func() { upCalls.Add(1) }, zerolog.Nop(),
		WithCheckFunc(func(context.Context) bool { return reachable.Load() }),
		WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	// Goes down first.
	waitFor(t, func() bool { return !p.Up() })
	if upCalls.Load() != 0 {
		t.Fatal("onUp must not fire while down")
	}

	// Comes back: exactly one onUp per transition.
	reachable.Store(true)
	waitFor(t, func() bool { return upCalls.Load() == 1 })

	time.Sleep(30 * time.Millisecond)
	if upCalls.Load() != 1 {
		t.Fatalf("onUp fired %d times while staying up", upCalls.Load())
	}
}

func TestProbe_StartsOptimistic(t *testing.T) {
	var upCalls atomic.Int32
	p := NewProbe(func() { upCalls.Add(1) }, zerolog.Nop(),
		WithCheckFunc(func(context.Context) bool { return true }),
		WithInterval(5*time.Millisecond))

	if !p.Up() {
		t.Fatal("probe must assume up before the first check")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	if upCalls.Load() != 0 {
		t.Fatal("a healthy start must never fire onUp")
	}
}

func TestProbe_StopsOnCancel(t *testing.T) {
	var checks atomic.Int32
	p := NewProbe(nil, zerolog.Nop(),
		WithCheckFunc(func(context.Context) bool { checks.Add(1); return true }),
		WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	waitFor(t, func() bool { return checks.Load() > 0 })
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run must return on cancel")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
