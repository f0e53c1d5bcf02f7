package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redisv9 "github.com/redis/go-redis/v9"

	"docchat/internal/model"
)

func newTestCache(t *testing.T, ttl time.Duration) (*TranscriptCache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTranscriptCache(client, ttl), server
}

func sampleTranscript(id uuid.UUID) []model.Message {
	return []model.Message{
		{ID: 1, ConversationID: id, Role: model.RoleUser, Content: "hello"},
		{ID: 2, ConversationID: id, Role: model.RoleAssistant, Content: "hi there"},
	}
}

func TestTranscriptCache_SetGetDelete(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()
	id := uuid.New()

	if _, hit, err := c.Get(ctx, id); err != nil || hit {
		t.Fatalf("expected a miss, got hit=%v err=%v", hit, err)
	}

	version, err := c.Version(ctx, id)
	if err != nil || version != 0 {
		t.Fatalf("expected version 0, got %d err=%v", version, err)
	}
	stored, err := c.Set(ctx, id, version, sampleTranscript(id))
	if err != nil || !stored {
		t.Fatalf("set failed: stored=%v err=%v", stored, err)
	}

	got, hit, err := c.Get(ctx, id)
	if err != nil || !hit {
		t.Fatalf("expected a hit, got hit=%v err=%v", hit, err)
	}
	if len(got) != 2 || got[1].Content != "hi there" || got[1].Role != model.RoleAssistant {
		t.Errorf("unexpected transcript %+v", got)
	}

	if err := c.Delete(ctx, id); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, hit, _ := c.Get(ctx, id); hit {
		t.Error("transcript should be gone after delete")
	}
	if v, _ := c.Version(ctx, id); v != 1 {
		t.Errorf("delete should bump the version to 1, got %d", v)
	}
}

func TestTranscriptCache_StaleSetIsRefused(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()
	id := uuid.New()

	before, err := c.Version(ctx, id)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	// An append lands between the reader's version check and its write.
	if err := c.Delete(ctx, id); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	stored, err := c.Set(ctx, id, before, sampleTranscript(id)[:1])
	if err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if stored {
		t.Error("a list read before the append must not be cached")
	}
	if _, hit, _ := c.Get(ctx, id); hit {
		t.Error("stale transcript was cached")
	}

	current, _ := c.Version(ctx, id)
	if stored, err := c.Set(ctx, id, current, sampleTranscript(id)); err != nil || !stored {
		t.Errorf("set at the current version should succeed, stored=%v err=%v", stored, err)
	}
}

func TestTranscriptCache_EntriesExpire(t *testing.T) {
	c, server := newTestCache(t, 30*time.Second)
	ctx := context.Background()
	id := uuid.New()

	if _, err := c.Set(ctx, id, 0, sampleTranscript(id)); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if ttl := server.TTL(transcriptKey(id)); ttl != 30*time.Second {
		t.Errorf("expected a 30s ttl, got %s", ttl)
	}

	server.FastForward(31 * time.Second)
	if _, hit, _ := c.Get(ctx, id); hit {
		t.Error("transcript should expire after its ttl")
	}
}

func TestTranscriptCache_DefaultTTL(t *testing.T) {
	c := NewTranscriptCache(nil, 0)
	if c.ttl != defaultTranscriptTTL {
		t.Errorf("expected default ttl %s, got %s", defaultTranscriptTTL, c.ttl)
	}
}

func TestTranscriptCache_UnreachableServer(t *testing.T) {
	c, server := newTestCache(t, time.Minute)
	server.Close()
	ctx := context.Background()
	id := uuid.New()

	if _, _, err := c.Get(ctx, id); err == nil {
		t.Error("expected a get error")
	}
	if _, err := c.Version(ctx, id); err == nil {
		t.Error("expected a version error")
	}
	if _, err := c.Set(ctx, id, 0, sampleTranscript(id)); err == nil {
		t.Error("expected a set error")
	}
	if err := c.Delete(ctx, id); err == nil {
		t.Error("expected a delete error")
	}
}
