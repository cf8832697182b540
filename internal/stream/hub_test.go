package stream

import (
	"context"
	"testing"
	"time"

	"backend-racesync/internal/race"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func recv(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
		return nil
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("race-1")
	defer hub.Unregister(client)
	other := hub.Register("race-2")
	defer hub.Unregister(other)

	if err := hub.Broadcast(context.Background(), "race-1", []byte("hello")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if string(recv(t, client)) != "hello" {
		t.Fatalf("unexpected message")
	}
	select {
	case <-other.Send:
		t.Fatalf("message leaked to another race")
	default:
	}
}

func TestHubPublishEncodesEnvelope(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("9")
	defer hub.Unregister(client)

	if err := hub.Publish(context.Background(), "9", race.Ended{Reason: "canceled"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev, err := race.DecodeEnvelope(recv(t, client))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ended, ok := ev.(race.Ended); !ok || ended.Reason != "canceled" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestHubSlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("race-slow")
	defer hub.Unregister(client)

	for i := 0; i < clientBuffer*2; i++ {
		_ = hub.Broadcast(context.Background(), "race-slow", []byte("x"))
	}
	if len(client.Send) != clientBuffer {
		t.Fatalf("expected a full buffer, got %d", len(client.Send))
	}
}

func TestHubHelpers(t *testing.T) {
	ch := redisChannel("abc")
	if ch != "race:abc:events" {
		t.Fatalf("unexpected channel %q", ch)
	}
	if raceIDFromChannel(ch) != "abc" {
		t.Fatalf("unexpected race id")
	}
	if raceIDFromChannel("bad") != "" {
		t.Fatalf("expected empty race id")
	}
	if raceIDFromChannel("tracking:abc:broadcast") != "" {
		t.Fatalf("expected foreign channel to be ignored")
	}
}

func TestUnregisterClosesOnce(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("race-2")
	hub.Unregister(client)
	hub.Unregister(client)
	if _, ok := <-client.Send; ok {
		t.Fatalf("expected channel closed")
	}
	if hub.Watchers("race-2") != 0 {
		t.Fatalf("expected no watchers")
	}
}

func TestHubRedisBroadcastAndSubscribe(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	hub := NewHub(client)
	defer hub.Close()
	<-hub.Ready()

	watcher := hub.Register("race-redis")
	defer hub.Unregister(watcher)

	if err := hub.Broadcast(context.Background(), "race-redis", []byte("ping")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if string(recv(t, watcher)) != "ping" {
		t.Fatalf("unexpected message")
	}
	select {
	case <-watcher.Send:
		t.Fatalf("message delivered twice")
	case <-time.After(50 * time.Millisecond):
	}

	// Another relay instance publishing to the same channel.
	if err := client.Publish(context.Background(), "race:race-redis:events", "pong").Err(); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	if string(recv(t, watcher)) != "pong" {
		t.Fatalf("unexpected message from redis")
	}
}

func TestHubRedisPublishErrorFallsBackToLocal(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	defer client.Close()

	hub := NewHub(client)
	<-hub.Ready()
	server.Close()
	defer hub.Close()

	watcher := hub.Register("race-bad")
	defer hub.Unregister(watcher)

	if err := hub.Broadcast(context.Background(), "race-bad", []byte("ping")); err == nil {
		t.Fatalf("expected publish error")
	}
	if string(recv(t, watcher)) != "ping" {
		t.Fatalf("expected local delivery")
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub := NewHub(nil)
	a := hub.Register("race-1")
	b := hub.Register("race-2")

	hub.Close()
	hub.Close()
	for _, c := range []*Client{a, b} {
		if _, ok := <-c.Send; ok {
			t.Fatalf("expected %s client disconnected", c.RaceID)
		}
	}
	if hub.Watchers("race-1") != 0 {
		t.Fatalf("expected no watchers after close")
	}
	hub.Unregister(a)

	late := hub.Register("race-1")
	if _, ok := <-late.Send; ok {
		t.Fatalf("expected client registered after close to start disconnected")
	}
	hub.Unregister(late)
}
