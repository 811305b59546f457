package apperrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsAlreadyProcessing(t *testing.T) {
	err := NewAlreadyProcessingError("/v/a.mp4")
	require.True(t, IsAlreadyProcessing(err))
	require.False(t, IsCapacitySaturated(err))
	require.Equal(t, "Video already being processed", err.Error())
}

func TestIsCapacitySaturated(t *testing.T) {
	err := NewCapacitySaturatedError("ANALYZE", 4)
	require.True(t, IsCapacitySaturated(err))
	require.False(t, IsAlreadyProcessing(err))
}

func TestIsVideoMissing(t *testing.T) {
	err := NewVideoMissingError("/v/missing.mp4")
	require.True(t, IsVideoMissing(err))
	require.Contains(t, err.Error(), "/v/missing.mp4")
}

func TestExtractionErrorUnwraps(t *testing.T) {
	cause := fmt.Errorf("no such container")
	err := NewExtractionError("/v/a.mp4", cause)
	require.True(t, IsExtractionError(err))
	require.ErrorIs(t, err, cause)
}

func TestPipelineErrorUnwraps(t *testing.T) {
	cause := fmt.Errorf("plugin chain exploded")
	err := NewPipelineError("analysis pipeline failed", cause)
	require.True(t, IsPipelineError(err))
	require.ErrorIs(t, err, cause)
}

func TestIsBadRequest(t *testing.T) {
	err := NewBadRequestError("missing job_id")
	require.True(t, IsBadRequest(err))
}
