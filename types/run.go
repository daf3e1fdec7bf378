package types

import "time"

// ResultStats tracks case statistics for a run
type ResultStats struct {
	Total     int
	Passed    int
	Failed    int
	Skipped   int
	Errored   int
	StartTime time.Time
	EndTime   time.Time
}

// Add counts one result.
func (s *ResultStats) Add(status TestStatus) {
	s.Total++
	switch status {
	case TestStatusPass:
		s.Passed++
	case TestStatusFail:
		s.Failed++
	case TestStatusSkip:
		s.Skipped++
	case TestStatusError:
		s.Errored++
	}
}

// RunResult captures the complete run, results in catalogue order
type RunResult struct {
	RunID    string
	Results  []*TestResult
	Status   TestStatus
	Duration time.Duration
	Stats    ResultStats
}

// Failed returns the results that did not pass or skip.
func (r *RunResult) Failed() []*TestResult {
	var out []*TestResult
	for _, res := range r.Results {
		if res.Status == TestStatusFail || res.Status == TestStatusError {
			out = append(out, res)
		}
	}
	return out
}
