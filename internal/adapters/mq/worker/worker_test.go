package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/riskpulse/internal/adapters/mq/queue"
	"github.com/okian/riskpulse/internal/adapters/mq/worker"
	"github.com/okian/riskpulse/internal/domain/dedupe"
	"github.com/okian/riskpulse/internal/domain/model"
)

type mockProcessor struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newMockProcessor() *mockProcessor {
	return &mockProcessor{calls: make(map[string]int), fail: make(map[string]error)}
}

func (m *mockProcessor) ProcessTelemetry(_ context.Context, rec *model.TelemetryRecord) (*model.TelemetryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[rec.VehicleID]++
	if err, ok := m.fail[rec.VehicleID]; ok {
		return nil, err
	}
	rec.ID = fmt.Sprintf("%s-%d", rec.VehicleID, m.calls[rec.VehicleID])
	return rec, nil
}

func (m *mockProcessor) setError(vehicle string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, vehicle)
		return
	}
	m.fail[vehicle] = err
}

func (m *mockProcessor) count(vehicle string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[vehicle]
}

type slowProcessor struct{ delay time.Duration }

func (s slowProcessor) ProcessTelemetry(_ context.Context, rec *model.TelemetryRecord) (*model.TelemetryRecord, error) {
	time.Sleep(s.delay)
	rec.ID = rec.VehicleID
	return rec, nil
}

type mockBroadcaster struct {
	mu  sync.Mutex
	ids []string
}

func (b *mockBroadcaster) Publish(rec *model.TelemetryRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids = append(b.ids, rec.ID)
}

func (b *mockBroadcaster) published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.ids...)
}

func msg(payload string) queue.Message {
	return queue.Message{Topic: queue.DefaultTopic, Payload: []byte(payload), ReceivedAt: time.Now()}
}

const stamped = `{"vehicle_id":"%s","contractId":"C-1","timestamp":"2025-01-01T10:00:00Z","data":{"SPEED":{"value":80,"unit":"km/h"}}}`

func TestPoolHandle(t *testing.T) {
	convey.Convey("Given a pool with a dedupe guard", t, func() {
		ctx := context.Background()
		proc := newMockProcessor()
		bc := &mockBroadcaster{}
		guard := dedupe.NewInMemoryDeduper()
		pool := worker.NewPool(queue.NewInMemoryQueue(), proc,
			worker.WithBroadcaster(bc), worker.WithDeduper(guard), worker.WithWorkers(1))

		convey.Convey("When a valid message arrives", func() {
			err := pool.Handle(ctx, msg(fmt.Sprintf(stamped, "VH-1")))

			convey.Convey("Then it is processed and broadcast", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(proc.count("VH-1"), convey.ShouldEqual, 1)
				convey.So(bc.published(), convey.ShouldResemble, []string{"VH-1-1"})
			})
		})

		convey.Convey("When the payload cannot be decoded", func() {
			err := pool.Handle(ctx, msg(`{"vehicle_id":`))

			convey.Convey("Then a decode error is returned and nothing is broadcast", func() {
				convey.So(errors.Is(err, model.ErrDecode), convey.ShouldBeTrue)
				convey.So(bc.published(), convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When the same delivery arrives twice", func() {
			convey.So(pool.Handle(ctx, msg(fmt.Sprintf(stamped, "VH-1"))), convey.ShouldBeNil)
			convey.So(pool.Handle(ctx, msg(fmt.Sprintf(stamped, "VH-1"))), convey.ShouldBeNil)

			convey.Convey("Then the second is skipped", func() {
				convey.So(proc.count("VH-1"), convey.ShouldEqual, 1)
				convey.So(bc.published(), convey.ShouldHaveLength, 1)
			})
		})

		convey.Convey("When records carry no timestamp", func() {
			payload := `{"vehicle_id":"VH-2","data":{"SPEED":{"value":80}}}`
			convey.So(pool.Handle(ctx, msg(payload)), convey.ShouldBeNil)
			convey.So(pool.Handle(ctx, msg(payload)), convey.ShouldBeNil)

			convey.Convey("Then the guard does not apply", func() {
				convey.So(proc.count("VH-2"), convey.ShouldEqual, 2)
				convey.So(guard.Size(), convey.ShouldEqual, int64(0))
			})
		})

		convey.Convey("When processing fails", func() {
			proc.setError("VH-3", model.NewKind("app.ProcessTelemetry", model.ErrPersistence))
			err := pool.Handle(ctx, msg(fmt.Sprintf(stamped, "VH-3")))

			convey.Convey("Then nothing is broadcast and the key is released", func() {
				convey.So(errors.Is(err, model.ErrPersistence), convey.ShouldBeTrue)
				convey.So(bc.published(), convey.ShouldBeEmpty)
				convey.So(guard.Size(), convey.ShouldEqual, int64(0))

				proc.setError("VH-3", nil)
				convey.So(pool.Handle(ctx, msg(fmt.Sprintf(stamped, "VH-3"))), convey.ShouldBeNil)
				convey.So(proc.count("VH-3"), convey.ShouldEqual, 2)
				convey.So(bc.published(), convey.ShouldResemble, []string{"VH-3-2"})
			})
		})
	})

	convey.Convey("Given a pool without a guard or broadcaster", t, func() {
		proc := newMockProcessor()
		pool := worker.NewPool(queue.NewInMemoryQueue(), proc)

		convey.Convey("Then redeliveries are processed again", func() {
			ctx := context.Background()
			convey.So(pool.Handle(ctx, msg(fmt.Sprintf(stamped, "VH-4"))), convey.ShouldBeNil)
			convey.So(pool.Handle(ctx, msg(fmt.Sprintf(stamped, "VH-4"))), convey.ShouldBeNil)
			convey.So(proc.count("VH-4"), convey.ShouldEqual, 2)
		})
	})
}

func TestPoolLifecycle(t *testing.T) {
	convey.Convey("Given a running pool over an in-memory queue", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		proc := newMockProcessor()
		proc.setError("bad", errors.New("store down"))
		bc := &mockBroadcaster{}
		pool := worker.NewPool(q, proc, worker.WithBroadcaster(bc), worker.WithWorkers(4))

		for i := 0; i < 20; i++ {
			convey.So(q.Publish(ctx, []byte(fmt.Sprintf(`{"vehicle_id":"VH-%d"}`, i))), convey.ShouldBeNil)
		}
		convey.So(q.Publish(ctx, []byte(`not json`)), convey.ShouldBeNil)
		convey.So(q.Publish(ctx, []byte(`{"vehicle_id":"bad"}`)), convey.ShouldBeNil)
		pool.Start(ctx)
		pool.Start(ctx)

		convey.Convey("When the pool shuts down", func() {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			err := pool.Shutdown(shutdownCtx)

			convey.Convey("Then buffered messages are drained past failures", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(bc.published(), convey.ShouldHaveLength, 20)
				convey.So(proc.count("bad"), convey.ShouldEqual, 1)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given a slow pool whose start context is cancelled", t, func() {
		startCtx, stop := context.WithCancel(context.Background())
		q := queue.NewInMemoryQueue(queue.WithCapacity(64))
		bc := &mockBroadcaster{}
		pool := worker.NewPool(q, slowProcessor{delay: 2 * time.Millisecond}, worker.WithBroadcaster(bc), worker.WithWorkers(1))

		for i := 0; i < 50; i++ {
			convey.So(q.Publish(startCtx, []byte(fmt.Sprintf(`{"vehicle_id":"VH-%d"}`, i))), convey.ShouldBeNil)
		}
		pool.Start(startCtx)
		stop()

		convey.Convey("When the pool shuts down", func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := pool.Shutdown(shutdownCtx)

			convey.Convey("Then every buffered message is still processed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(bc.published(), convey.ShouldHaveLength, 50)
				convey.So(q.Len(), convey.ShouldEqual, 0)
			})
		})
	})

	convey.Convey("Given a pool that never started", t, func() {
		q := queue.NewInMemoryQueue()
		pool := worker.NewPool(q, newMockProcessor())

		convey.Convey("Then Shutdown only closes the source", func() {
			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
			convey.So(q.IsClosed(), convey.ShouldBeTrue)
		})
	})
}
