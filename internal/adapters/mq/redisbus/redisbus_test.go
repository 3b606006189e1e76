package redisbus

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"
)

// unreachable returns a client pointed at a closed port so calls fail fast.
func unreachable() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestToMessage(t *testing.T) {
	Convey("Given a redis delivery", t, func() {
		at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		m := toMessage(&redis.Message{Channel: "vehicle-data", Payload: `{"vehicle_id":"VH-1"}`}, at)

		Convey("Then it becomes a broker message", func() {
			So(m.Topic, ShouldEqual, "vehicle-data")
			So(string(m.Payload), ShouldEqual, `{"vehicle_id":"VH-1"}`)
			So(m.ReceivedAt, ShouldEqual, at)
		})
	})
}

func TestUnreachableServer(t *testing.T) {
	Convey("Given no redis server", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		client := unreachable()
		Reset(func() { _ = client.Close() })

		Convey("Then Dial fails", func() {
			_, err := Dial(ctx, Config{Addr: "127.0.0.1:1"})
			So(err, ShouldNotBeNil)
		})

		Convey("Then Publish returns an error", func() {
			err := NewPublisher(client, "vehicle-data").Publish(ctx, []byte("{}"))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "publish vehicle-data")
		})

		Convey("Then Subscribe reports the failure", func() {
			s := NewSubscriber(client, "vehicle-data")
			Reset(func() { _ = s.Close() })
			So(s.Subscribe(ctx), ShouldNotBeNil)
		})
	})
}

func TestClosedSubscriber(t *testing.T) {
	Convey("Given a closed subscriber", t, func() {
		client := unreachable()
		Reset(func() { _ = client.Close() })
		s := NewSubscriber(client, "vehicle-data", WithBufferSize(4))
		So(s.Close(), ShouldBeNil)

		Convey("Then Messages is already closed", func() {
			_, ok := <-s.Messages(context.Background())
			So(ok, ShouldBeFalse)
		})

		Convey("Then Subscribe fails and Close stays idempotent", func() {
			So(s.Subscribe(context.Background()), ShouldEqual, ErrClosed)
			So(s.Close(), ShouldBeNil)
		})
	})
}
