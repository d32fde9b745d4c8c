package store

import (
	"testing"
	"time"
)

func TestWaiterRegistry_NotifyWakesAll(t *testing.T) {
	reg := NewWaiterRegistry()

	ch1, cancel1 := reg.Register("/stream")
	defer cancel1()
	ch2, cancel2 := reg.Register("/stream")
	defer cancel2()
	other, cancelOther := reg.Register("/other")
	defer cancelOther()

	reg.Notify("/stream")

	for i, ch := range []<-chan WakeReason{ch1, ch2} {
		select {
		case reason := <-ch:
			if reason != WakeData {
				t.Errorf("waiter %d: expected WakeData, got %v", i, reason)
			}
		case <-time.After(time.Second):
			t.Errorf("waiter %d not woken", i)
		}
	}

	select {
	case <-other:
		t.Error("waiter on other path should not be woken")
	default:
	}
}

func TestWaiterRegistry_DropIsTerminal(t *testing.T) {
	reg := NewWaiterRegistry()

	ch, cancel := reg.Register("/stream")
	defer cancel()

	reg.Drop("/stream")

	select {
	case reason := <-ch:
		if reason != WakeGone {
			t.Errorf("expected WakeGone, got %v", reason)
		}
	case <-time.After(time.Second):
		t.Error("waiter not woken by drop")
	}
}

func TestWaiterRegistry_CancelRemovesWaiter(t *testing.T) {
	reg := NewWaiterRegistry()

	ch, cancel := reg.Register("/stream")
	cancel()

	reg.Notify("/stream")

	select {
	case <-ch:
		t.Error("cancelled waiter should not be woken")
	default:
	}
}

func TestWaiterRegistry_OnChange(t *testing.T) {
	reg := NewWaiterRegistry()

	var total int
	reg.OnChange(func(delta int) { total += delta })

	_, cancel1 := reg.Register("/a")
	_, cancel2 := reg.Register("/a")
	if total != 2 {
		t.Errorf("expected 2 active waiters, got %d", total)
	}

	cancel1()
	cancel2()
	if total != 0 {
		t.Errorf("expected 0 active waiters after cancel, got %d", total)
	}
}
