package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-conformance/types"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "conformance"
)

// Process outcomes used as label values.
const (
	OutcomeSuccess  = "success"
	OutcomeExitCode = "exit_code"
	OutcomeLaunch   = "launch_failure"
	OutcomeTimeout  = "timeout"
)

// Registry holds every conformance metric. It is served by the metrics
// server when metrics are enabled.
var Registry = opmetrics.NewRegistry()

var factory = promauto.With(Registry)

var (
	Debug                bool = true
	validResults              = []types.TestStatus{types.TestStatusPass, types.TestStatusFail, types.TestStatusSkip, types.TestStatusError}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	processRunsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "process_runs_total",
		Help:      "Count of external processes run, by description and outcome",
	}, []string{
		"description",
		"outcome",
	})

	processDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "process_duration_seconds",
		Help:      "Wall clock duration of external processes",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 9),
	}, []string{
		"description",
	})

	runtimeBuildState = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "runtime_build_state",
		Help:      "State of the shared runtime build (0=unbuilt, 1=building, 2=built, 3=failed)",
	})

	runtimeBuildDuration = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "runtime_build_duration_seconds",
		Help:      "Duration of the shared runtime build",
	})

	stageResultsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "stage_results_total",
		Help:      "Count of execution stages, by stage and result",
	}, []string{
		"stage",
		"result",
	})

	testResultsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_results_total",
		Help:      "Count of conformance case results",
	}, []string{
		"run_id",
		"suite",
		"result",
	})

	runDuration = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of conformance runs",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordProcessRun(description string, outcome string, duration time.Duration) {
	processRunsTotal.WithLabelValues(description, outcome).Inc()
	processDuration.WithLabelValues(description).Observe(duration.Seconds())
}

func RecordBuildState(state types.BuildState) {
	runtimeBuildState.Set(float64(state))
}

func RecordBuildDuration(duration time.Duration) {
	runtimeBuildDuration.Set(duration.Seconds())
}

func RecordStage(stage types.Stage, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	stageResultsTotal.WithLabelValues(string(stage), result).Inc()
}

func RecordTestResult(runID string, suite string, result types.TestStatus) {
	if !isValidResult(result) {
		log.Error("RecordTestResult - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "test_results_total",
			"run_id", runID,
			"suite", suite,
			"result", result)
	}
	testResultsTotal.WithLabelValues(runID, suite, string(result)).Inc()
}

func RecordRun(runID string, duration time.Duration) {
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}

func isValidResult(result types.TestStatus) bool {
	return slices.Contains(validResults, result)
}
