// Package dashboard reduces completed log records over a pair of time windows
// into the aggregate KPIs shown on the operations dashboard.
//
// The package is pure: callers fetch the two record sets (current and previous
// window) and pass them in, so "now" never leaks in from an ambient clock.
package dashboard

import "github.com/indexops/indexops/internal/models"

// Pair is one dashboard metric: the current-window value and its percentage
// change against the previous window.
type Pair struct {
	Current float64 `json:"current"`
	Change  float64 `json:"change"`
}

// Metrics are the five dashboard KPIs.
type Metrics struct {
	TotalRecords           Pair `json:"totalRecords"`
	TotalJobsSentToIndex   Pair `json:"totalJobsSentToIndex"`
	TotalSuccessedIndexing Pair `json:"totalSuccessedIndexing"`
	SuccessRate            Pair `json:"successRate"`
	FailedJobs             Pair `json:"failedJobs"`
}

type windowSums struct {
	totalRecords       float64
	totalJobsInFeed    float64
	totalSentToIndex   float64
	totalFailedJobs    float64
	successedIndexing  float64
	successRatePercent float64
}

// Compute aggregates two disjoint sets of completed records, the current
// 7-day window and the 7 days before it, into the dashboard metrics.
//
// totalSuccessedIndexing is a window-level subtraction (sum of sends minus
// sum of failures) and may go negative when failures exceed sends; the value
// is reported as-is.
func Compute(current, previous []models.LogRecord) Metrics {
	cur := sumWindow(current)
	prev := sumWindow(previous)

	return Metrics{
		TotalRecords:           pair(cur.totalRecords, prev.totalRecords),
		TotalJobsSentToIndex:   pair(cur.totalSentToIndex, prev.totalSentToIndex),
		TotalSuccessedIndexing: pair(cur.successedIndexing, prev.successedIndexing),
		SuccessRate:            pair(cur.successRatePercent, prev.successRatePercent),
		FailedJobs:             pair(cur.totalFailedJobs, prev.totalFailedJobs),
	}
}

// Change is the percentage change of current vs previous. A zero previous
// value yields 100 when anything was gained and 0 otherwise, never a division
// by zero.
func Change(current, previous float64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return (current - previous) / previous * 100
}

func pair(current, previous float64) Pair {
	return Pair{Current: current, Change: Change(current, previous)}
}

func sumWindow(records []models.LogRecord) windowSums {
	var s windowSums
	for _, rec := range records {
		s.totalRecords += float64(rec.Progress.RecordsInFeed)
		s.totalJobsInFeed += float64(rec.Progress.JobsInFeed)
		s.totalSentToIndex += float64(rec.Progress.JobsSentToIndex)
		s.totalFailedJobs += float64(rec.Progress.JobsFailIndexed)
	}

	s.successedIndexing = s.totalSentToIndex - s.totalFailedJobs
	if s.totalJobsInFeed > 0 {
		s.successRatePercent = s.successedIndexing / s.totalJobsInFeed * 100
	}
	return s
}
