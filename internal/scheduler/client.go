package scheduler

import (
	"context"
	"errors"
	"time"

	"leadrouting_backend/internal/routing/domain"
	"leadrouting_backend/platform/config"
	"leadrouting_backend/platform/redisconn"

	"github.com/hibiken/asynq"
)

// rebalanceDelay lets a burst of inserts into one stage collapse into one job.
const rebalanceDelay = 5 * time.Second

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	opt, err := redisClientOpt(cfg)
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ScheduleRebalance enqueues a rebalance of stage. A rebalance already pending
// for the stage absorbs the request.
func (c *Client) ScheduleRebalance(ctx context.Context, stage domain.StageRef) error {
	if c == nil || c.client == nil {
		return nil
	}

	pipelineID, stageID := stage.PipelineID.String(), stage.StageID.String()
	task, err := NewStageRebalanceTask(StageRebalancePayload{PipelineID: pipelineID, StageID: stageID})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.TaskID(rebalanceTaskID(pipelineID, stageID)),
		asynq.ProcessIn(rebalanceDelay),
		asynq.MaxRetry(3),
	)
	if isDuplicate(err) {
		return nil
	}
	return err
}

func isDuplicate(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)
}

func redisClientOpt(cfg config.RedisConfig) (asynq.RedisClientOpt, error) {
	opt, err := redisconn.Options(cfg)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}
