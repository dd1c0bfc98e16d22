package frame

import (
	"testing"
	"time"

	"eduos/defs"
	"eduos/oommsg"
	"eduos/swap"
)

func TestEvictEmptyTableNotifiesOOM(t *testing.T) {
	tbl := MkTable(&swap.Swap_t{})

	// notifyOOM's send is non-blocking and drops the notification on the
	// floor if the listener goroutine has not reached its receive yet, so
	// Evict is repeated until one notification gets through.
	got := make(chan oommsg.Oommsg_t, 1)
	go func() {
		msg := <-oommsg.OomCh
		msg.Resume <- true
		got <- msg
	}()

	deadline := time.After(time.Second)
	for {
		_, err := tbl.Evict()
		if err != -defs.ENOMEM {
			t.Fatalf("expected ENOMEM evicting an empty table, got %d", err)
		}

		select {
		case msg := <-got:
			if msg.Need != 1 {
				t.Fatalf("expected Need=1, got %d", msg.Need)
			}
			return
		case <-deadline:
			t.Fatalf("expected an OOM notification, got none")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestNframesEmpty(t *testing.T) {
	tbl := MkTable(&swap.Swap_t{})
	if n := tbl.Nframes(); n != 0 {
		t.Fatalf("expected 0 tracked frames on a fresh table, got %d", n)
	}
}
