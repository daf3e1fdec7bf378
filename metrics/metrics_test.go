package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ethereum-optimism/infra/op-conformance/types"
)

func TestErrToLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{
			name: "nil error",
			err:  nil,
		},
		{
			name: "simple error",
			err:  errors.New("test error"),
		},
		{
			name: "error with special chars",
			err:  errors.New("test@error#123"),
		},
		{
			name: "error with multiple spaces",
			err:  errors.New("test   error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := errToLabel(tt.err)
			validLabelRegex := regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)
			if !validLabelRegex.MatchString(result) {
				t.Errorf("errLabel() = %v, is not a valid Prometheus label", result)
			}
		})
	}
}

func TestRecordProcessRun(t *testing.T) {
	before := testutil.ToFloat64(processRunsTotal.WithLabelValues("metrics test", OutcomeExitCode))
	RecordProcessRun("metrics test", OutcomeExitCode, 150*time.Millisecond)
	RecordProcessRun("metrics test", OutcomeExitCode, 10*time.Millisecond)
	after := testutil.ToFloat64(processRunsTotal.WithLabelValues("metrics test", OutcomeExitCode))
	assert.Equal(t, before+2, after)
}

func TestRecordBuildState(t *testing.T) {
	RecordBuildState(types.BuildStateFailed)
	assert.Equal(t, float64(3), testutil.ToFloat64(runtimeBuildState))
	RecordBuildState(types.BuildStateSucceeded)
	assert.Equal(t, float64(2), testutil.ToFloat64(runtimeBuildState))
}

func TestRecordTestResult(t *testing.T) {
	RecordTestResult("run-1", "lexer", types.TestStatusPass)
	assert.Equal(t, float64(1), testutil.ToFloat64(testResultsTotal.WithLabelValues("run-1", "lexer", "pass")))

	// invalid results are dropped
	count := testutil.CollectAndCount(testResultsTotal)
	RecordTestResult("run-1", "lexer", types.TestStatus("bogus"))
	assert.Equal(t, count, testutil.CollectAndCount(testResultsTotal))
}
