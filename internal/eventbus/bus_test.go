package eventbus

import "testing"

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	t.Parallel()

	b := New[string]()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish("hello")

	for i, ch := range []<-chan string{a, c} {
		select {
		case got := <-ch:
			if got != "hello" {
				t.Fatalf("sub %d got %q", i, got)
			}
		default:
			t.Fatalf("sub %d received nothing", i)
		}
	}
}

func TestPublishEvictsOldestForFullSubscriber(t *testing.T) {
	t.Parallel()

	b := New[int]()
	ch, unsub := b.Subscribe(2)
	defer unsub()

	for i := 1; i <= 5; i++ {
		b.Publish(i) // never blocks
	}

	if got := []int{<-ch, <-ch}; got[0] != 4 || got[1] != 5 {
		t.Fatalf("got %v, want the two newest", got)
	}
	st := b.Stats()
	if st.Published != 5 || st.Dropped != 3 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	b := New[int]()
	ch, unsub := b.Subscribe(1)
	if b.Len() != 1 {
		t.Fatalf("len = %d", b.Len())
	}
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open")
	}
	if b.Len() != 0 {
		t.Fatalf("len after unsubscribe = %d", b.Len())
	}
	b.Publish(3) // no subscribers; no panic
}
