package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/waqarahm3d/qoqnuzmedia/internal/dispatch"
)

// FetchHandler adapts the runner's fetch phase to the consumer.
type FetchHandler struct {
	runner *Runner
}

func NewFetchHandler(runner *Runner) *FetchHandler {
	return &FetchHandler{runner: runner}
}

func (h *FetchHandler) Handle(ctx context.Context, handle string, payload []byte) error {
	var task dispatch.FetchTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("undecodable fetch task: %w", err)
	}
	return h.runner.RunFetch(ctx, handle, task)
}

func (h *FetchHandler) HandleLost(ctx context.Context, payload []byte) {
	var task dispatch.FetchTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return
	}
	h.runner.FailLost(ctx, task.JobID)
}

// ProcessHandler adapts the runner's processing phase to the consumer.
type ProcessHandler struct {
	runner *Runner
}

func NewProcessHandler(runner *Runner) *ProcessHandler {
	return &ProcessHandler{runner: runner}
}

func (h *ProcessHandler) Handle(ctx context.Context, handle string, payload []byte) error {
	var task dispatch.ProcessTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("undecodable process task: %w", err)
	}
	return h.runner.RunProcess(ctx, handle, task)
}

func (h *ProcessHandler) HandleLost(ctx context.Context, payload []byte) {
	var task dispatch.ProcessTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return
	}
	h.runner.FailLost(ctx, task.JobID)
}
