package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TaskStageRebalance = "routing.stage.rebalance"

type StageRebalancePayload struct {
	PipelineID string `json:"pipelineId"`
	StageID    string `json:"stageId"`
}

func NewStageRebalanceTask(payload StageRebalancePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStageRebalance, data), nil
}

// ParseStageRebalancePayload decodes the task payload and both ids.
func ParseStageRebalancePayload(task *asynq.Task) (pipelineID, stageID uuid.UUID, err error) {
	var payload StageRebalancePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if pipelineID, err = uuid.Parse(payload.PipelineID); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("pipeline id: %w", err)
	}
	if stageID, err = uuid.Parse(payload.StageID); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("stage id: %w", err)
	}
	return pipelineID, stageID, nil
}

// rebalanceTaskID dedupes pending rebalances of one stage.
func rebalanceTaskID(pipelineID, stageID string) string {
	return "rebalance:" + pipelineID + ":" + stageID
}
