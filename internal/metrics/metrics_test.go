package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPipelineRunsTotal_Increments(t *testing.T) {
	PipelineRunsTotal.Reset()
	PipelineRunsTotal.WithLabelValues("completed").Inc()
	PipelineRunsTotal.WithLabelValues("completed").Inc()
	PipelineRunsTotal.WithLabelValues("failed").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(PipelineRunsTotal.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(PipelineRunsTotal.WithLabelValues("failed")))
}

func TestStageFailuresTotal_LabelsByStageAndCode(t *testing.T) {
	StageFailuresTotal.Reset()
	StageFailuresTotal.WithLabelValues("SURVIVAL", "MODEL_FIT_FAILURE").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(StageFailuresTotal.WithLabelValues("SURVIVAL", "MODEL_FIT_FAILURE")))
}
