package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"fabula/internal/tasks"
)

// AsynqJobClient is the concrete JobClient over an asynq/Redis connection.
var _ JobClient = (*AsynqJobClient)(nil)

type AsynqJobClient struct {
	client *asynq.Client
	log    *logrus.Logger
}

func NewAsynqJobClient(redisOpt asynq.RedisClientOpt, log *logrus.Logger) *AsynqJobClient {
	return &AsynqJobClient{client: asynq.NewClient(redisOpt), log: log}
}

func (jc *AsynqJobClient) Close() error {
	return jc.client.Close()
}

// Enqueue submits a task and logs the assigned id and queue.
func (jc *AsynqJobClient) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := jc.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("enqueue task %s: %w", task.Type(), err)
	}
	jc.log.WithFields(logrus.Fields{
		"task_id": info.ID,
		"type":    task.Type(),
		"queue":   info.Queue,
	}).Debug("task enqueued")
	return info, nil
}

// EnqueueCatalogRefresh queues a full-catalog recommendation refresh. An
// empty metric means the worker uses the configured default.
func (jc *AsynqJobClient) EnqueueCatalogRefresh(ctx context.Context, metric string) (*asynq.TaskInfo, error) {
	payload := encodePayload(map[string]interface{}{"metric": metric})
	task := asynq.NewTask(tasks.TypeCatalogRefresh, payload)
	return jc.Enqueue(ctx, task, asynq.Queue(tasks.QueueRecommendations))
}

// EnqueueStoryRefresh queues a refresh of one story's recommendations.
func (jc *AsynqJobClient) EnqueueStoryRefresh(ctx context.Context, storyID int64, metric string) (*asynq.TaskInfo, error) {
	payload := encodePayload(map[string]interface{}{"story_id": storyID, "metric": metric})
	task := asynq.NewTask(tasks.TypeStoryRefresh, payload)
	return jc.Enqueue(ctx, task, asynq.Queue(tasks.QueueRecommendations))
}

func encodePayload(data map[string]interface{}) []byte {
	b, _ := json.Marshal(data)
	return b
}
