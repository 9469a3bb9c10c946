package broadcast

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/paystream/internal/domain"
)

func tx(id int) domain.Transaction {
	return domain.Transaction{ID: strconv.Itoa(id), Status: domain.StatusApproved}
}

func TestHub_FanOut(t *testing.T) {
	h := NewHub(4, nil)
	a := h.Subscribe()
	b := h.Subscribe()
	require.Equal(t, 2, h.Subscribers())

	h.Publish(tx(1))

	for _, sub := range []*Subscription{a, b} {
		select {
		case got := <-sub.C():
			assert.Equal(t, "1", got.ID)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive", sub.ID())
		}
	}
	assert.EqualValues(t, 1, h.Published())
}

func TestHub_SlowSubscriberDropsOldest(t *testing.T) {
	h := NewHub(3, nil)
	slow := h.Subscribe()
	fast := h.Subscribe()

	var wg sync.WaitGroup
	var received []string
	wg.Add(1)
	go func() {
		defer wg.Done()
		for got := range fast.C() {
			received = append(received, got.ID)
		}
	}()

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 10; i++ {
			h.Publish(tx(i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	var kept []string
	for i := 0; i < 3; i++ {
		kept = append(kept, (<-slow.C()).ID)
	}
	assert.Equal(t, []string{"8", "9", "10"}, kept)
	assert.EqualValues(t, 7, slow.Dropped())

	h.Unsubscribe(fast)
	wg.Wait()
	assert.Contains(t, received, "10")
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(1, nil)
	sub := h.Subscribe()
	h.Unsubscribe(sub)
	h.Unsubscribe(sub)

	_, open := <-sub.C()
	assert.False(t, open)
	assert.Zero(t, h.Subscribers())

	h.Publish(tx(1))
}

func TestHub_ConcurrentSubscribeAndPublish(t *testing.T) {
	h := NewHub(8, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := h.Subscribe()
			time.Sleep(time.Millisecond)
			h.Unsubscribe(sub)
		}()
		go func(i int) {
			defer wg.Done()
			h.Publish(tx(i))
		}(i)
	}
	wg.Wait()
	assert.Zero(t, h.Subscribers())
}

func TestHub_Close(t *testing.T) {
	h := NewHub(1, nil)
	sub := h.Subscribe()
	h.Close()

	_, open := <-sub.C()
	assert.False(t, open)

	late := h.Subscribe()
	_, open = <-late.C()
	assert.False(t, open)
	h.Publish(tx(1))
	h.Unsubscribe(late)
}
