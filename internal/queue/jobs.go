// Package queue defines the background tasks and how they are enqueued.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// InspectScoreTask is scheduled after each upload to count the PDF pages.
	InspectScoreTask = "score:inspect"
	// ReclaimObjectTask deletes a stored file no record ended up referencing.
	ReclaimObjectTask = "storage:reclaim"
	// PasswordResetTask delivers a password reset message.
	PasswordResetTask = "identity:password-reset"
)

// InspectPayload names the record and the stored file to inspect.
type InspectPayload struct {
	ScoreID  string `json:"score_id"`
	FilePath string `json:"file_path"`
}

// ReclaimPayload names the possibly orphaned object.
type ReclaimPayload struct {
	Path string `json:"path"`
}

// PasswordResetPayload carries the recipient and the reset link.
type PasswordResetPayload struct {
	Email string `json:"email"`
	Link  string `json:"link"`
}

// Enqueuer schedules tasks. Client sends them to Redis; Inline hands them to
// an in-process handler.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error
}

// NewTask marshals payload into an asynq task.
func NewTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, data), nil
}

// Decode unmarshals a task payload.
func Decode(task *asynq.Task, v any) error {
	if err := json.Unmarshal(task.Payload(), v); err != nil {
		return fmt.Errorf("decode %s payload: %w", task.Type(), err)
	}
	return nil
}

// Client enqueues into Redis through asynq.
type Client struct {
	client *asynq.Client
}

// NewClient connects an asynq client.
func NewClient(opt asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(opt)}
}

// Enqueue schedules one task. Tasks run at most once: failures are logged by
// the worker rather than retried.
func (c *Client) Enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error {
	task, err := NewTask(taskType, payload)
	if err != nil {
		return err
	}
	opts = append([]asynq.Option{asynq.MaxRetry(0)}, opts...)
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue %s task: %w", taskType, err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
