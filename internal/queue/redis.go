package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"climatology/harvester/internal/domain/task"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Queue is a durable task queue backed by one Redis stream per task type
type Queue interface {
	AddTask(ctx context.Context, task task.Task) (string, error) // Returns message ID
	// GetTask returns the next undelivered task of taskType, or nil when there is none.
	GetTask(ctx context.Context, consumer, taskType string) (*redis.XMessage, error)
	AckTask(ctx context.Context, taskType, msgID string) error
	// AutoClaim takes over tasks another consumer read but never acknowledged.
	AutoClaim(ctx context.Context, consumer, taskType string, minIdleTime time.Duration) ([]redis.XMessage, error)
	Len(ctx context.Context, taskType string) (int64, error)
}

type RedisQueue struct {
	redisClient  *redis.Client
	streamPrefix string
	groupName    string
}

func NewRedisQueue(ctx context.Context, redisClient *redis.Client, prefix, group string, taskTypes ...string) (Queue, error) {
	q := &RedisQueue{
		redisClient:  redisClient,
		streamPrefix: prefix + ":stream:",
		groupName:    group,
	}

	// Ensure all streams and consumer groups exist before workers start
	if err := q.EnsureStreamsExist(ctx, taskTypes); err != nil {
		return nil, fmt.Errorf("failed to ensure streams exist: %w", err)
	}

	return q, nil
}

func (q *RedisQueue) stream(taskType string) string {
	return q.streamPrefix + taskType
}

func (q *RedisQueue) createGroup(ctx context.Context, stream string) error {
	err := q.redisClient.XGroupCreateMkStream(ctx, stream, q.groupName, "0").Err()
	if err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP") {
		log.Debugf("Group %s already exists for stream %s", q.groupName, stream)
		return nil
	}
	return err
}

func (q *RedisQueue) AddTask(ctx context.Context, task task.Task) (string, error) {
	taskType := task.TaskType()
	streamName := q.stream(taskType)

	taskValue, err := task.TaskValue()
	if err != nil {
		return "", fmt.Errorf("failed to serialize task: %w", err)
	}

	// Fields: task_type, task_data
	messageID, err := q.redisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		Values: map[string]interface{}{
			"task_type": taskType,
			"task_data": string(taskValue),
		},
	}).Result()

	if err != nil {
		return "", fmt.Errorf("failed to add task to Redis stream %s: %w", streamName, err)
	}

	log.Debugf("Added task %s to stream %s with message ID: %s", taskType, streamName, messageID)
	return messageID, nil
}

func (q *RedisQueue) GetTask(ctx context.Context, consumer, taskType string) (*redis.XMessage, error) {
	stream := q.stream(taskType)
	result, err := q.redisClient.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.groupName,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    -1, // do not block; an empty stream ends a drain
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // No new messages
		}
		return nil, fmt.Errorf("failed to read from Redis stream %s: %w", stream, err)
	}

	if len(result) == 0 || len(result[0].Messages) == 0 {
		return nil, nil // No new messages
	}

	return &result[0].Messages[0], nil
}

func (q *RedisQueue) AckTask(ctx context.Context, taskType, msgID string) error {
	return q.redisClient.XAck(ctx, q.stream(taskType), q.groupName, msgID).Err()
}

func (q *RedisQueue) AutoClaim(ctx context.Context, consumer, taskType string, minIdleTime time.Duration) ([]redis.XMessage, error) {
	stream := q.stream(taskType)
	result, _, err := q.redisClient.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    q.groupName,
		Consumer: consumer,
		MinIdle:  minIdleTime,
		Start:    "0-0",
		Count:    100,
	}).Result()

	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to claim messages from Redis stream %s: %w", stream, err)
	}

	return result, nil
}

// Len returns the number of entries currently held by the stream of taskType.
func (q *RedisQueue) Len(ctx context.Context, taskType string) (int64, error) {
	n, err := q.redisClient.XLen(ctx, q.stream(taskType)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to measure stream %s: %w", q.stream(taskType), err)
	}
	return n, nil
}

// EnsureStreamsExist creates the streams and consumer group for taskTypes upfront
func (q *RedisQueue) EnsureStreamsExist(ctx context.Context, taskTypes []string) error {
	for _, taskType := range taskTypes {
		if err := q.createGroup(ctx, q.stream(taskType)); err != nil {
			return fmt.Errorf("failed to create consumer group for %s: %w", taskType, err)
		}
		log.Debugf("✅ Stream %s and consumer group %s ready", q.stream(taskType), q.groupName)
	}
	return nil
}

// Decode extracts the task payload of msg into T.
func Decode[T task.Task](msg redis.XMessage) (T, error) {
	var zero T
	data, ok := msg.Values["task_data"].(string)
	if !ok {
		return zero, fmt.Errorf("message %s has no task_data", msg.ID)
	}
	t, err := task.UnmarshalTask[T]([]byte(data))
	if err != nil {
		return zero, fmt.Errorf("failed to decode message %s: %w", msg.ID, err)
	}
	return t, nil
}
