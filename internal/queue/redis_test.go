package queue

import (
	"context"
	"testing"
	"time"

	"climatology/harvester/internal/domain"
	"climatology/harvester/internal/domain/task"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T) (*miniredis.Miniredis, Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q, err := NewRedisQueue(context.Background(), client, "test", "harvester", task.ItemRetryTaskType)
	require.NoError(t, err)
	return mr, q
}

func retryTask(file string) *task.ItemRetryTask {
	return &task.ItemRetryTask{
		UnitKey: "2001",
		Item: domain.ItemReference{
			URL:      "https://files.example.com/2001/" + file,
			FileName: file,
		},
		Destination: "data/2001/" + file,
		Error:       "503 service unavailable",
	}
}

func TestNewRedisQueueIsIdempotent(t *testing.T) {
	mr, _ := newQueue(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := NewRedisQueue(context.Background(), client, "test", "harvester", task.ItemRetryTaskType)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:stream:ItemRetryTask"))
}

func TestAddGetAck(t *testing.T) {
	ctx := context.Background()
	_, q := newQueue(t)

	id, err := q.AddTask(ctx, retryTask("a.csv"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	n, err := q.Len(ctx, task.ItemRetryTaskType)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	msg, err := q.GetTask(ctx, "c1", task.ItemRetryTaskType)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, id, msg.ID)

	decoded, err := Decode[*task.ItemRetryTask](*msg)
	require.NoError(t, err)
	assert.Equal(t, retryTask("a.csv"), decoded)

	// Delivered once per group.
	next, err := q.GetTask(ctx, "c2", task.ItemRetryTaskType)
	require.NoError(t, err)
	assert.Nil(t, next)

	require.NoError(t, q.AckTask(ctx, task.ItemRetryTaskType, msg.ID))

	claimed, err := q.AutoClaim(ctx, "c2", task.ItemRetryTaskType, 0)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestGetTaskOnEmptyStream(t *testing.T) {
	_, q := newQueue(t)

	msg, err := q.GetTask(context.Background(), "c1", task.ItemRetryTaskType)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestAutoClaimTakesOverPending(t *testing.T) {
	ctx := context.Background()
	mr, q := newQueue(t)

	_, err := q.AddTask(ctx, retryTask("a.csv"))
	require.NoError(t, err)

	msg, err := q.GetTask(ctx, "crashed", task.ItemRetryTaskType)
	require.NoError(t, err)
	require.NotNil(t, msg)

	claimed, err := q.AutoClaim(ctx, "c2", task.ItemRetryTaskType, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed, "not idle long enough")

	mr.SetTime(time.Now().Add(2 * time.Minute))

	claimed, err = q.AutoClaim(ctx, "c2", task.ItemRetryTaskType, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, msg.ID, claimed[0].ID)
}

func TestDecodeRejectsMissingPayload(t *testing.T) {
	_, err := Decode[*task.ItemRetryTask](redis.XMessage{ID: "1-0", Values: map[string]interface{}{}})
	assert.Error(t, err)

	_, err = Decode[*task.ItemRetryTask](redis.XMessage{ID: "1-0", Values: map[string]interface{}{"task_data": "{"}})
	assert.Error(t, err)
}
