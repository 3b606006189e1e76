package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/riskpulse/internal/domain/model"
)

func rec(id string) *model.TelemetryRecord {
	return &model.TelemetryRecord{ID: id, VehicleID: "VH-1"}
}

func drain(ch <-chan *model.TelemetryRecord) []string {
	var ids []string
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return ids
			}
			ids = append(ids, r.ID)
		default:
			return ids
		}
	}
}

func TestHub_FanOut(t *testing.T) {
	h := NewHub()
	defer h.Close()
	ctx := context.Background()

	a, cancelA := h.Subscribe(ctx)
	defer cancelA()
	b, cancelB := h.Subscribe(ctx)
	defer cancelB()
	require.Equal(t, 2, h.Subscribers())

	h.Publish(rec("r1"))
	h.Publish(nil)

	assert.Equal(t, []string{"r1"}, drain(a))
	assert.Equal(t, []string{"r1"}, drain(b))
}

func TestHub_NoReplay(t *testing.T) {
	h := NewHub()
	defer h.Close()

	h.Publish(rec("before"))
	ch, cancel := h.Subscribe(context.Background())
	defer cancel()
	h.Publish(rec("after"))

	assert.Equal(t, []string{"after"}, drain(ch))
}

func TestHub_DropOldest(t *testing.T) {
	h := NewHub(WithBufferSize(2))
	defer h.Close()
	ch, cancel := h.Subscribe(context.Background())
	defer cancel()

	for _, id := range []string{"1", "2", "3", "4"} {
		h.Publish(rec(id))
	}
	assert.Equal(t, []string{"3", "4"}, drain(ch))
}

func TestHub_DropNewest(t *testing.T) {
	h := NewHub(WithBufferSize(2), WithPolicy(DropNewest))
	defer h.Close()
	ch, cancel := h.Subscribe(context.Background())
	defer cancel()

	for _, id := range []string{"1", "2", "3", "4"} {
		h.Publish(rec(id))
	}
	assert.Equal(t, []string{"1", "2"}, drain(ch))
}

func TestHub_UnknownPolicyKeepsDefault(t *testing.T) {
	h := NewHub(WithPolicy("drop_everything"))
	assert.Equal(t, DropOldest, h.policy)
}

func TestHub_SlowSubscriberNeverBlocksPublish(t *testing.T) {
	h := NewHub(WithBufferSize(1))
	defer h.Close()
	slow, cancelSlow := h.Subscribe(context.Background())
	defer cancelSlow()
	fast, cancelFast := h.Subscribe(context.Background())
	defer cancelFast()

	var got []string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for r := range fast {
			got = append(got, r.ID)
			if r.ID == "last" {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Publish(rec("x"))
		}
		h.Publish(rec("last"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	wg.Wait()
	assert.Equal(t, "last", got[len(got)-1])
	assert.Equal(t, []string{"last"}, drain(slow))
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub()
	defer h.Close()

	ctx, cancelCtx := context.WithCancel(context.Background())
	byCtx, _ := h.Subscribe(ctx)
	byFunc, cancel := h.Subscribe(context.Background())

	cancel()
	cancel()
	_, ok := <-byFunc
	assert.False(t, ok)

	cancelCtx()
	select {
	case _, ok := <-byCtx:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("context cancellation did not close the channel")
	}
	assert.Eventually(t, func() bool { return h.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_Close(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe(context.Background())

	h.Close()
	h.Close()
	_, ok := <-ch
	assert.False(t, ok)
	assert.NotPanics(t, func() {
		cancel()
		h.Publish(rec("late"))
	})

	late, _ := h.Subscribe(context.Background())
	_, ok = <-late
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())
}
