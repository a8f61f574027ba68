package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSchedulerFiresCallback(t *testing.T) {
	s := NewExpiryScheduler()
	defer s.Shutdown()

	done := make(chan struct{})
	s.Schedule(uuid.New(), 5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled callback never fired")
	}
}

func TestSchedulerCancelPreventsFire(t *testing.T) {
	s := NewExpiryScheduler()
	defer s.Shutdown()

	var fires int32
	id := uuid.New()
	s.Schedule(id, 50*time.Millisecond, func() { atomic.AddInt32(&fires, 1) })

	if !s.Cancel(id) {
		t.Fatal("expected Cancel to report cancellation")
	}
	if s.Cancel(id) {
		t.Fatal("expected second Cancel to report false")
	}

	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&fires); n != 0 {
		t.Fatalf("cancelled countdown fired %d times", n)
	}
}

func TestSchedulerRearmReplacesCountdown(t *testing.T) {
	s := NewExpiryScheduler()
	defer s.Shutdown()

	var first, second int32
	id := uuid.New()

	s.Schedule(id, 20*time.Millisecond, func() { atomic.AddInt32(&first, 1) })
	s.Schedule(id, 5*time.Millisecond, func() { atomic.AddInt32(&second, 1) })

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&first) != 0 {
		t.Fatal("replaced countdown still fired")
	}
	if atomic.LoadInt32(&second) != 1 {
		t.Fatal("re-armed countdown did not fire")
	}
}

func TestSchedulerShutdownStopsAll(t *testing.T) {
	s := NewExpiryScheduler()

	var fires int32
	for i := 0; i < 5; i++ {
		s.Schedule(uuid.New(), 50*time.Millisecond, func() { atomic.AddInt32(&fires, 1) })
	}
	s.Shutdown()

	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&fires); n != 0 {
		t.Fatalf("%d countdowns fired after shutdown", n)
	}
}
