// Command stage-rebalance rewrites board ranks of one stage, or of every stage,
// with short evenly spaced keys.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"leadrouting_backend/internal/events"
	"leadrouting_backend/internal/routing"
	"leadrouting_backend/internal/routing/domain"
	"leadrouting_backend/internal/routing/service"
	"leadrouting_backend/platform/config"
	"leadrouting_backend/platform/db"
	"leadrouting_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type options struct {
	pipeline string
	stage    string
	all      bool
	dryRun   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "stage-rebalance",
		Short:         "Rewrite board ranks with short evenly spaced keys",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.pipeline, "pipeline", "", "pipeline id of the stage to rebalance")
	flags.StringVar(&opts.stage, "stage", "", "stage id to rebalance")
	flags.BoolVar(&opts.all, "all", false, "rebalance every stage of every pipeline")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "list the stages that would be rebalanced")
	cmd.MarkFlagsRequiredTogether("pipeline", "stage")
	cmd.MarkFlagsMutuallyExclusive("all", "stage")

	return cmd
}

func (o *options) validate() error {
	if !o.all && o.stage == "" {
		return errors.New("either --all or --pipeline with --stage is required")
	}
	return nil
}

func (o *options) targets(ctx context.Context, svc *service.Service) ([]domain.StageRef, error) {
	if !o.all {
		pipelineID, err := uuid.Parse(o.pipeline)
		if err != nil {
			return nil, fmt.Errorf("invalid --pipeline: %w", err)
		}
		stageID, err := uuid.Parse(o.stage)
		if err != nil {
			return nil, fmt.Errorf("invalid --stage: %w", err)
		}
		return []domain.StageRef{{PipelineID: pipelineID, StageID: stageID}}, nil
	}

	stages, err := svc.ListStages(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]domain.StageRef, 0, len(stages))
	for _, stage := range stages {
		refs = append(refs, stage.Ref())
	}
	return refs, nil
}

func run(ctx context.Context, opts *options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Env)

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	bus := events.NewInMemoryBus(log)
	defer bus.Wait()

	assembled, err := routing.NewService(cfg, routing.Deps{Pool: pool, Bus: bus, Log: log})
	if err != nil {
		return err
	}
	svc := assembled.Service

	refs, err := opts.targets(ctx, svc)
	if err != nil {
		return err
	}

	var failed int
	for _, ref := range refs {
		if opts.dryRun {
			report, err := svc.InspectStage(ctx, ref.PipelineID, ref.StageID)
			if err != nil {
				failed++
				log.Error("stage inspection failed", "pipelineId", ref.PipelineID, "stageId", ref.StageID, "error", err)
				continue
			}
			log.Info("would rebalance stage",
				"pipelineId", ref.PipelineID, "stageId", ref.StageID, "stage", report.Stage.Name,
				"cards", report.Cards, "longestRank", report.LongestRank, "overLimit", report.NeedsRebalance)
			continue
		}
		cards, err := svc.RebalanceStage(ctx, ref.PipelineID, ref.StageID)
		if err != nil {
			failed++
			log.Error("stage rebalance failed", "pipelineId", ref.PipelineID, "stageId", ref.StageID, "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		log.Info("stage rebalanced", "pipelineId", ref.PipelineID, "stageId", ref.StageID, "cards", cards)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d stages failed", failed, len(refs))
	}
	return nil
}
