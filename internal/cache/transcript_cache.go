package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redisv9 "github.com/redis/go-redis/v9"

	"docchat/internal/model"
)

const (
	defaultTranscriptTTL = 5 * time.Minute
	versionTTL           = 24 * time.Hour
)

var errStaleVersion = errors.New("transcript version changed")

// TranscriptCache holds serialized conversation transcripts in redis. Each
// conversation also has a version counter that Delete bumps, so a reader that
// loaded the database before an append cannot store its older list.
type TranscriptCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewTranscriptCache(client *redisv9.Client, ttl time.Duration) *TranscriptCache {
	if ttl <= 0 {
		ttl = defaultTranscriptTTL
	}
	return &TranscriptCache{client: client, ttl: ttl}
}

func (c *TranscriptCache) Get(ctx context.Context, conversationID uuid.UUID) ([]model.Message, bool, error) {
	raw, err := c.client.Get(ctx, transcriptKey(conversationID)).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get transcript failed: %w", err)
	}

	var messages []model.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached transcript failed: %w", err)
	}
	return messages, true, nil
}

// Version returns the current version of the conversation's transcript. A
// conversation that was never invalidated is at version 0.
func (c *TranscriptCache) Version(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	v, err := readVersion(ctx, c.client, conversationID)
	if err != nil {
		return 0, fmt.Errorf("redis get transcript version failed: %w", err)
	}
	return v, nil
}

// Set stores messages only while the transcript is still at version. It
// reports false without error when a newer version exists.
func (c *TranscriptCache) Set(ctx context.Context, conversationID uuid.UUID, version int64, messages []model.Message) (bool, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return false, fmt.Errorf("marshal transcript failed: %w", err)
	}

	vkey := versionKey(conversationID)
	err = c.client.Watch(ctx, func(tx *redisv9.Tx) error {
		current, err := readVersion(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if current != version {
			return errStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
			pipe.Set(ctx, transcriptKey(conversationID), payload, c.ttl)
			return nil
		})
		return err
	}, vkey)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errStaleVersion), errors.Is(err, redisv9.TxFailedErr):
		return false, nil
	default:
		return false, fmt.Errorf("redis set transcript failed: %w", err)
	}
}

// Delete drops the cached transcript and bumps its version.
func (c *TranscriptCache) Delete(ctx context.Context, conversationID uuid.UUID) error {
	vkey := versionKey(conversationID)
	_, err := c.client.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		pipe.Incr(ctx, vkey)
		pipe.Expire(ctx, vkey, versionTTL)
		pipe.Del(ctx, transcriptKey(conversationID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete transcript failed: %w", err)
	}
	return nil
}

func readVersion(ctx context.Context, cmd redisv9.StringCmdable, conversationID uuid.UUID) (int64, error) {
	v, err := cmd.Get(ctx, versionKey(conversationID)).Int64()
	if errors.Is(err, redisv9.Nil) {
		return 0, nil
	}
	return v, err
}

func transcriptKey(conversationID uuid.UUID) string {
	return "chat:transcript:" + conversationID.String()
}

func versionKey(conversationID uuid.UUID) string {
	return "chat:transcript:version:" + conversationID.String()
}
