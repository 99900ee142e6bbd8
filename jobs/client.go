package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{client: asynq.NewClient(redisOpts), logger: logger}, nil
}

// EnqueueProfitRefresh schedules a summary rebuild. Requests for the same
// periods within a minute collapse into one task and return nil info.
func (c *Client) EnqueueProfitRefresh(ctx context.Context, payload ProfitRefreshPayload) (*asynq.TaskInfo, error) {
	task, err := NewProfitRefreshTask(payload)
	if err != nil {
		return nil, err
	}
	return c.enqueueUnique(ctx, task)
}

// EnqueueStaleScan schedules a stale assignment scan.
func (c *Client) EnqueueStaleScan(ctx context.Context, payload StaleScanPayload) (*asynq.TaskInfo, error) {
	task, err := NewStaleScanTask(payload)
	if err != nil {
		return nil, err
	}
	return c.enqueueUnique(ctx, task)
}

func (c *Client) enqueueUnique(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs client: not configured")
	}
	info, err := c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.Unique(time.Minute), asynq.MaxRetry(3))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil, nil
	}
	return info, err
}

// Invalidate queues a refresh of the current periods after a ledger mutation.
// Failures are logged; the nightly cron catches up.
func (c *Client) Invalidate(ctx context.Context) {
	if c == nil {
		return
	}
	if _, err := c.EnqueueProfitRefresh(ctx, ProfitRefreshPayload{}); err != nil {
		c.logger.Warn("enqueue profit refresh", slog.Any("error", err))
	}
}

// Close releases client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
