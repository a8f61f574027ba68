package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/prepdeck/prepdeck-backend/internal/config"
)

// RedisAnswerBuffer keeps one hash per attempt in Redis and queues every
// write on the persist queue for guaranteed delivery to PostgreSQL by the
// autosave worker. The HSet is synchronous and is the ack the client
// waits for, while the Postgres UPSERT happens off the hot path.
type RedisAnswerBuffer struct {
	rdb *redis.Client
}

// NewRedisAnswerBuffer creates a RedisAnswerBuffer.
func NewRedisAnswerBuffer(rdb *redis.Client) *RedisAnswerBuffer {
	return &RedisAnswerBuffer{rdb: rdb}
}

// persistPayload is the queue message consumed by the autosave worker.
type persistPayload struct {
	AttemptID  string `json:"attempt_id"`
	QuestionID string `json:"question_id"`
	Option     string `json:"option"`
}

func (b *RedisAnswerBuffer) Record(ctx context.Context, attemptID, questionID uuid.UUID, option string) error {
	key := config.CacheKey.AttemptAnswersKey(attemptID.String())
	if err := b.rdb.HSet(ctx, key, questionID.String(), option).Err(); err != nil {
		return fmt.Errorf("buffer answer: %w", err)
	}

	payload, _ := json.Marshal(persistPayload{
		AttemptID:  attemptID.String(),
		QuestionID: questionID.String(),
		Option:     option,
	})
	if err := b.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload).Err(); err != nil {
		return fmt.Errorf("enqueue answer: %w", err)
	}
	return nil
}

func (b *RedisAnswerBuffer) Get(ctx context.Context, attemptID, questionID uuid.UUID) (string, bool, error) {
	key := config.CacheKey.AttemptAnswersKey(attemptID.String())
	val, err := b.rdb.HGet(ctx, key, questionID.String()).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get answer: %w", err)
	}
	return val, true, nil
}

func (b *RedisAnswerBuffer) Snapshot(ctx context.Context, attemptID uuid.UUID) (map[string]string, error) {
	key := config.CacheKey.AttemptAnswersKey(attemptID.String())
	answers, err := b.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("snapshot answers: %w", err)
	}
	return answers, nil
}

// Restore re-warms the hash from the authoritative Postgres record. It only
// fills fields, it does not queue persistence; the data came from Postgres
// in the first place.
func (b *RedisAnswerBuffer) Restore(ctx context.Context, attemptID uuid.UUID, answers map[string]string) error {
	if len(answers) == 0 {
		return nil
	}
	key := config.CacheKey.AttemptAnswersKey(attemptID.String())
	pairs := make([]interface{}, 0, len(answers)*2)
	for qid, option := range answers {
		pairs = append(pairs, qid, option)
	}
	if err := b.rdb.HSet(ctx, key, pairs...).Err(); err != nil {
		return fmt.Errorf("restore answers: %w", err)
	}
	return nil
}

func (b *RedisAnswerBuffer) Clear(ctx context.Context, attemptID uuid.UUID) error {
	key := config.CacheKey.AttemptAnswersKey(attemptID.String())
	if err := b.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("clear answers: %w", err)
	}
	return nil
}
