package scheduler

import (
	"context"
	"fmt"

	"leadrouting_backend/platform/apperr"
	"leadrouting_backend/platform/config"
	"leadrouting_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// StageRebalancer rewrites the ranks of one stage.
type StageRebalancer interface {
	RebalanceStage(ctx context.Context, pipelineID, stageID uuid.UUID) (int, error)
}

type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	rebalancer StageRebalancer
	log        *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, rebalancer StageRebalancer, log *logger.Logger) (*Worker, error) {
	opt, err := redisClientOpt(cfg)
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 5
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	w := newWorker(rebalancer, log)
	w.server = server
	return w, nil
}

func newWorker(rebalancer StageRebalancer, log *logger.Logger) *Worker {
	w := &Worker{
		mux:        asynq.NewServeMux(),
		rebalancer: rebalancer,
		log:        log,
	}
	w.mux.HandleFunc(TaskStageRebalance, w.handleStageRebalance)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleStageRebalance(ctx context.Context, task *asynq.Task) error {
	pipelineID, stageID, err := ParseStageRebalancePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	cards, err := w.rebalancer.RebalanceStage(ctx, pipelineID, stageID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			w.log.Warn("rebalance skipped, stage is gone", "pipelineId", pipelineID, "stageId", stageID)
			return nil
		}
		return err
	}

	w.log.Info("stage rebalanced", "pipelineId", pipelineID, "stageId", stageID, "cards", cards)
	return nil
}
