package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertToBPMNError(t *testing.T) {
	tests := []struct {
		name        string
		err         *StandardError
		wantCode    string
		wantRetries int
	}{
		{
			name:        "carriage write is retried",
			err:         NewCarriageWriteFailedError("app-001", errors.New("deadlock detected")),
			wantCode:    "CARRIAGE_WRITE_FAILED",
			wantRetries: 3,
		},
		{
			name:        "queue full is retried once",
			err:         NewQueueFullError("app-001"),
			wantCode:    "INGESTION_QUEUE_FULL",
			wantRetries: 1,
		},
		{
			name:        "evaluation failure is not retried",
			err:         NewEvaluationFailedError("app-001", errors.New("timeout")),
			wantCode:    "EVALUATION_FAILED",
			wantRetries: 0,
		},
		{
			name:        "invalid event is not retried",
			err:         NewInvalidEventError("trigger missing"),
			wantCode:    "INVALID_EVENT",
			wantRetries: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpmn := ConvertToBPMNError(tt.err)

			assert.Equal(t, tt.wantCode, bpmn.Code)
			assert.Equal(t, tt.wantRetries, bpmn.Retries)
			assert.Equal(t, string(tt.err.Code), bpmn.ErrorVariables["originalErrorCode"])
		})
	}
}

func TestStandardError_WithMetadata(t *testing.T) {
	stdErr := NewStageWriteConflictError("app-001", errors.New("version moved")).WithMetadata(map[string]interface{}{
		"fromStage": "requires_documents",
		"toStage":   "in_review",
	})

	vars := ConvertToBPMNError(stdErr).ToErrorVariables()

	assert.Equal(t, "in_review", vars["toStage"])
	assert.Equal(t, "STAGE_WRITE_CONFLICT", vars["errorCode"])
}

func TestCodeOf_UnwrapsChains(t *testing.T) {
	cause := errors.New("no rows")
	wrapped := fmt.Errorf("reconcile: %w", NewApplicationNotFoundError("app-001", cause))

	assert.Equal(t, ErrCodeApplicationNotFound, CodeOf(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, ErrorCode("INTERNAL_ERROR"), CodeOf(errors.New("plain")))
	assert.Equal(t, ErrorCode("INTERNAL_ERROR"), CodeOf(nil))
}

func TestNormalize(t *testing.T) {
	stdErr := NewTemplateNotFoundError("zero_docs")
	assert.Same(t, stdErr, Normalize(fmt.Errorf("send: %w", stdErr)))

	plain := Normalize(errors.New("boom"))
	require.NotNil(t, plain)
	assert.Equal(t, ErrorCode("INTERNAL_ERROR"), plain.Code)
	assert.False(t, plain.Retryable)
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "RECONCILIATION", GetErrorCategory(ErrCodeStageWriteConflict))
	assert.Equal(t, "DATABASE", GetErrorCategory(ErrCodeCarriageWriteFailed))
	assert.Equal(t, "DISPATCH", GetErrorCategory(ErrCodeClaimStoreUnavailable))
	assert.Equal(t, "INGESTION", GetErrorCategory(ErrCodeQueueFull))
	assert.Equal(t, "AUDIT", GetErrorCategory(ErrCodeAuditIndexFailed))
}
