package main

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestForwardWakeups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs := make(chan *redis.Message)
	woke := make(chan struct{}, 4)
	done := make(chan struct{})
	go func() {
		forwardWakeups(ctx, msgs, func() { woke <- struct{}{} })
		close(done)
	}()

	msgs <- &redis.Message{Channel: "payments:pending", Payload: "cs_test_1"}
	msgs <- &redis.Message{Channel: "payments:pending", Payload: "cs_test_2"}
	for i := 0; i < 2; i++ {
		select {
		case <-woke:
		case <-time.After(time.Second):
			t.Fatalf("wake %d not delivered", i+1)
		}
	}

	close(msgs)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwardWakeups did not return after channel close")
	}
}
