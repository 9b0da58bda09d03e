package universe

import (
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"

	"github.com/capport/capport/frame"
)

func intFrame(t *testing.T, vals ...int64) *frame.Frame {
	t.Helper()
	col := make([]interface{}, len(vals))
	for i, v := range vals {
		col[i] = v
	}
	f, err := frame.New(frame.Schema{{Name: "v", Type: frame.Scalar(frame.Int64)}}, [][]interface{}{col})
	if err != nil {
		t.Fatalf("unable to build frame, %s", err)
	}
	return f
}

func TestPublishAdvancesGeneration(t *testing.T) {
	u := New([]string{"A"}, 4)
	c, err := u.Cell("A")
	if err != nil {
		t.Fatal(err)
	}
	if g := c.Generation(); g != 0 {
		t.Errorf("fresh cell should be at generation 0, got %d", g)
	}
	for i := 1; i <= 3; i++ {
		if g := c.Publish(intFrame(t, int64(i)), "src"); g != uint64(i) {
			t.Errorf("wrong generation after publish %d, got %d", i, g)
		}
	}
	f, g := c.Read()
	if g != 3 || f.NumRows() != 1 {
		t.Errorf("wrong snapshot, generation %d rows %d", g, f.NumRows())
	}
}

func TestSubscriberSeesPostSubscriptionGenerations(t *testing.T) {
	defer leaktest.Check(t)()
	u := New([]string{"A"}, 4)
	c, _ := u.Cell("A")

	c.Publish(intFrame(t, 1), "src")
	sub := c.Subscribe("listener")

	// a late subscriber observes the current generation by reading
	if _, g := c.Read(); g != 1 {
		t.Fatalf("late subscriber should see generation 1, got %d", g)
	}

	c.Publish(intFrame(t, 2), "src")
	select {
	case up := <-sub.C:
		if up.Generation <= 1 {
			t.Errorf("notification must post-date the subscription, got generation %d", up.Generation)
		}
		if up.Producer != "src" || up.Cell != "A" {
			t.Errorf("wrong update metadata: %+v", up)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}
	c.Close()
}

func TestOverflowDropsOldestKeepsLatest(t *testing.T) {
	u := New([]string{"A"}, 2)
	c, _ := u.Cell("A")
	sub := c.Subscribe("slow")

	for i := 1; i <= 5; i++ {
		c.Publish(intFrame(t, int64(i)), "src")
	}
	if sub.Dropped() == 0 {
		t.Errorf("overflow should increment the dropped counter")
	}

	// monotone, non-decreasing delivery; the final read observes the
	// latest generation even though intermediate wakes were coalesced
	var last uint64
	for {
		select {
		case up := <-sub.C:
			if up.Generation < last {
				t.Errorf("out-of-order delivery: %d after %d", up.Generation, last)
			}
			last = up.Generation
			continue
		default:
		}
		break
	}
	if _, g := c.Read(); g != 5 {
		t.Errorf("cell should hold generation 5, got %d", g)
	}
	c.Close()
}

func TestCloseUnblocksReceivers(t *testing.T) {
	defer leaktest.Check(t)()
	u := New([]string{"A"}, 2)
	c, _ := u.Cell("A")
	sub := c.Subscribe("listener")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range sub.C {
		}
	}()
	c.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("receiver was not unblocked by Close")
	}

	// subscribing after close yields an already-closed channel
	late := c.Subscribe("late")
	if _, ok := <-late.C; ok {
		t.Errorf("subscription after close should be closed")
	}
}

func TestConcurrentPublishersSerialize(t *testing.T) {
	defer leaktest.Check(t)()
	u := New([]string{"A"}, 8)
	c, _ := u.Cell("A")

	var wg sync.WaitGroup
	const writers, rounds = 4, 25
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				c.Publish(intFrame(t, int64(i)), "w")
			}
		}()
	}
	wg.Wait()
	if g := c.Generation(); g != writers*rounds {
		t.Errorf("generation should count every publish exactly once, expected %d, got %d", writers*rounds, g)
	}
}

func TestUnsubscribe(t *testing.T) {
	u := New([]string{"A"}, 2)
	c, _ := u.Cell("A")
	sub := c.Subscribe("listener")
	c.Unsubscribe(sub)
	if _, ok := <-sub.C; ok {
		t.Errorf("unsubscribed channel should be closed")
	}
	c.Publish(intFrame(t, 1), "src") // must not panic
}

func TestDirtyFlag(t *testing.T) {
	u := New([]string{"A"}, 2)
	c, _ := u.Cell("A")
	if c.MarkClean() {
		t.Errorf("fresh cell should not be dirty")
	}
	c.Publish(intFrame(t, 1), "src")
	if !c.MarkClean() {
		t.Errorf("publish should set the dirty flag")
	}
	if c.MarkClean() {
		t.Errorf("MarkClean should clear the flag")
	}
}

func TestUniverseDirectory(t *testing.T) {
	u := New([]string{"B", "A", "A"}, 0)
	if !u.Has("A") || !u.Has("B") || u.Has("C") {
		t.Errorf("wrong directory membership")
	}
	if _, err := u.Cell("C"); err == nil {
		t.Errorf("missing cell lookup should fail")
	}
	names := u.Names()
	if len(names) != 2 || names[0] != "A" || names[1] != "B" {
		t.Errorf("wrong names, got %v", names)
	}
}
