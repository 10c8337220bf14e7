// internal/workers/lifecycle/persist-application-fields/handler.go
package persistapplicationfields

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/common/metrics"
	"loan-lifecycle/internal/common/validation"
	"loan-lifecycle/internal/lifecycle/repository"
)

const (
	TaskType = "persist-application-fields"
)

type Carriage interface {
	Delta(raw map[string]interface{}) repository.FieldDelta
	Persist(ctx context.Context, applicationID string, raw map[string]interface{}) error
}

type Handler struct {
	config       *Config
	carriage     Carriage
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, carriage Carriage, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		carriage:     carriage,
		errorHandler: errors.NewErrorHandler(l),
		logger:       l,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.handle(ctx, job.Variables)
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return nil
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	return nil
}

func (h *Handler) handle(ctx context.Context, variables string) (*Output, error) {
	var vars map[string]interface{}
	if err := json.Unmarshal([]byte(variables), &vars); err != nil {
		return nil, errors.NewInvalidPayloadError(fmt.Sprintf("parse variables: %v", err))
	}

	result, err := validation.ValidateFields(vars)
	if err != nil {
		return nil, errors.NewInvalidPayloadError(err.Error())
	}
	if !result.Valid {
		return nil, errors.NewInvalidPayloadError(strings.Join(result.GetErrorMessages(), "; "))
	}

	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, errors.NewInvalidPayloadError(fmt.Sprintf("parse input: %v", err))
	}

	return h.Execute(ctx, &input)
}

// Execute stores the submission synchronously. Nothing submitted is lost:
// keys that map to no canonical field land in unmapped_fields.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if err := h.carriage.Persist(ctx, input.ApplicationID, input.Payload); err != nil {
		return nil, err
	}

	delta := h.carriage.Delta(input.Payload)
	return &Output{
		ApplicationID:  input.ApplicationID,
		CanonicalCount: len(delta.Canonical),
		UnmappedCount:  len(delta.Unmapped),
		PersistedAt:    time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	h.logger.Info("job completed successfully", map[string]interface{}{
		"jobKey":        job.Key,
		"applicationId": output.ApplicationID,
	})
}
