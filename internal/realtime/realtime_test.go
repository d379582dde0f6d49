package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDecode(t *testing.T) {
	e, err := Decode(`{"trade_id":"t1","from_user_id":"a","to_user_id":"b","status":"PENDING","op":"INSERT"}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Status != "pending" || e.Op != "insert" || e.Key() != "t1/pending" {
		t.Fatalf("unexpected event %+v", e)
	}
	for _, bad := range []string{"", "{", `{"trade_id":"t1"}`, `{"status":"pending"}`} {
		if _, err := Decode(bad); !errors.Is(err, ErrBadPayload) {
			t.Fatalf("Decode(%q) err=%v", bad, err)
		}
	}
}

func TestHubFansOutToBothParties(t *testing.T) {
	h := NewHub(4)
	a, unsubA := h.Subscribe("a")
	defer unsubA()
	b, unsubB := h.Subscribe("b")
	defer unsubB()
	c, unsubC := h.Subscribe("c")
	defer unsubC()

	h.Publish(Event{TradeID: "t1", FromUserID: "a", ToUserID: "b", Status: "pending"})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case e := <-ch:
			if e.TradeID != "t1" {
				t.Fatalf("%s got %+v", name, e)
			}
		default:
			t.Fatalf("%s missed the event", name)
		}
	}
	select {
	case e := <-c:
		t.Fatalf("outsider received %+v", e)
	default:
	}
}

func TestHubPublishNeverBlocks(t *testing.T) {
	h := NewHub(1)
	_, unsub := h.Subscribe("a")
	defer unsub()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish(Event{TradeID: "t", FromUserID: "a", ToUserID: "b", Status: "pending"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub(1)
	ch, unsub := h.Subscribe("a")
	if h.Subscribers() != 1 {
		t.Fatalf("subscribers=%d", h.Subscribers())
	}
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("subscribers=%d after unsubscribe", h.Subscribers())
	}
	h.Publish(Event{TradeID: "t", FromUserID: "a", ToUserID: "b", Status: "pending"})
}

func TestListenerDropsDuplicates(t *testing.T) {
	var mu sync.Mutex
	var got []Event
	l := NewListener("", nil, SinkFunc(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}))

	pending := `{"trade_id":"t1","from_user_id":"a","to_user_id":"b","status":"pending","op":"insert"}`
	accepted := `{"trade_id":"t1","from_user_id":"a","to_user_id":"b","status":"accepted","op":"update"}`
	if !l.Handle(pending) {
		t.Fatalf("first delivery dropped")
	}
	if l.Handle(pending) {
		t.Fatalf("duplicate delivery published")
	}
	if !l.Handle(accepted) {
		t.Fatalf("status change dropped")
	}
	if l.Handle("not json") {
		t.Fatalf("bad payload published")
	}
	if len(got) != 2 || got[1].Status != "accepted" {
		t.Fatalf("published %+v", got)
	}
}

func TestCountEmitsOnlyOnChange(t *testing.T) {
	values := []int{2, 2, 3}
	i := 0
	c := NewCount(func(context.Context) (int, error) {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v, nil
	})
	ctx := context.Background()

	if v, _ := c.Pull(ctx); v != 2 {
		t.Fatalf("first pull=%d", v)
	}
	if v := <-c.Updates(); v != 2 {
		t.Fatalf("first update=%d", v)
	}
	c.Pull(ctx)
	select {
	case v := <-c.Updates():
		t.Fatalf("unchanged value emitted %d", v)
	default:
	}
	c.Pull(ctx)
	if v := <-c.Updates(); v != 3 {
		t.Fatalf("changed update=%d", v)
	}
	if v, ok := c.Value(); !ok || v != 3 {
		t.Fatalf("value=%d known=%v", v, ok)
	}
}

func TestCountPullErrorKeepsValue(t *testing.T) {
	fail := false
	c := NewCount(func(context.Context) (int, error) {
		if fail {
			return 0, errors.New("boom")
		}
		return 5, nil
	})
	c.Pull(context.Background())
	fail = true
	if _, err := c.Pull(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if v, ok := c.Value(); !ok || v != 5 {
		t.Fatalf("value=%d known=%v", v, ok)
	}
}

func TestCountRunRepullsOnTrigger(t *testing.T) {
	var mu sync.Mutex
	n := 0
	c := NewCount(func(context.Context) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return n, nil
	})
	triggers := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 0, triggers, nil)
		close(done)
	}()

	if v := <-c.Updates(); v != 1 {
		t.Fatalf("initial=%d", v)
	}
	triggers <- struct{}{}
	if v := <-c.Updates(); v != 2 {
		t.Fatalf("after trigger=%d", v)
	}
	close(triggers)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop when triggers closed")
	}
}
