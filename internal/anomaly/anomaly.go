// Package anomaly classifies job-indexing log records against a fixed set of
// consistency rules and tabulates violation statistics over a population of
// records.
//
// Rules are stateless predicates evaluated independently per record; a record
// may violate several rules at once. All functions are pure so results only
// depend on the record set passed in.
package anomaly

import (
	"sort"
	"time"

	"github.com/indexops/indexops/internal/models"
)

// Severity grades how alarming a rule violation is.
type Severity string

// Severity levels, from most to least alarming.
const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Rule is a named predicate over a log record's counters.
type Rule struct {
	Name        string
	Description string
	Severity    Severity

	Violates func(models.LogRecord) bool
}

// Rules returns the fixed rule set, evaluated independently per record.
func Rules() []Rule {
	return []Rule{
		{
			Name:        "Index Overflow",
			Description: "Jobs sent to index > Jobs in feed",
			Severity:    SeverityHigh,
			Violates:    IndexOverflow,
		},
		{
			Name:        "Metadata Logic Error",
			Description: "Jobs without metadata > Jobs sent to enrich",
			Severity:    SeverityMedium,
			Violates: func(r models.LogRecord) bool {
				return r.Progress.JobsWithoutMetadata > r.Progress.JobsSentToEnrich
			},
		},
		{
			Name:        "Feed Processing Failure",
			Description: "Jobs in feed > Total records in feed",
			Severity:    SeverityHigh,
			Violates: func(r models.LogRecord) bool {
				return r.Progress.JobsInFeed > r.Progress.RecordsInFeed
			},
		},
		{
			Name:        "Indexing Math Error",
			Description: "Processed jobs count doesn't match feed",
			Severity:    SeverityMedium,
			Violates: func(r models.LogRecord) bool {
				processed := r.Progress.JobsSentToIndex + r.Progress.JobsFailIndexed
				return processed > r.Progress.JobsInFeed && r.Progress.JobsInFeed > 0
			},
		},
		{
			Name:        "Zero Processing Anomaly",
			Description: "Records exist but no jobs processed",
			Severity:    SeverityHigh,
			Violates: func(r models.LogRecord) bool {
				return r.Progress.JobsInFeed == 0 && r.Progress.RecordsInFeed > 0
			},
		},
		{
			Name:        "Record Count Mismatch",
			Description: "Record count significantly higher than indexed",
			Severity:    SeverityLow,
			Violates: func(r models.LogRecord) bool {
				return float64(r.RecordCount) > float64(r.Progress.JobsSentToIndex)*1.5
			},
		},
	}
}

// HighSeverityRules returns the subset of rules considered critical when
// ranking clients by risk.
func HighSeverityRules() []Rule {
	var rules []Rule
	for _, rule := range Rules() {
		if rule.Severity == SeverityHigh {
			rules = append(rules, rule)
		}
	}
	return rules
}

// IndexOverflow reports whether more jobs were sent to the index than were in
// the feed. It is exported on its own because the jobs comparison view reuses
// it to order its rows.
func IndexOverflow(r models.LogRecord) bool {
	return r.Progress.JobsSentToIndex > r.Progress.JobsInFeed
}

// RuleStat is the violation tally of a single rule over a record population.
type RuleStat struct {
	Name        string   `json:"name"`
	Percentage  float64  `json:"percentage"`
	Count       int      `json:"count"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// Stats evaluates every rule against every record and returns one stat per
// rule, in the fixed rule order, along with the population size.
//
// Percentages are always within [0, 100] and are exactly 0 for an empty
// population.
func Stats(records []models.LogRecord) ([]RuleStat, int) {
	rules := Rules()
	stats := make([]RuleStat, 0, len(rules))
	total := len(records)

	for _, rule := range rules {
		count := 0
		for _, rec := range records {
			if rule.Violates(rec) {
				count++
			}
		}

		percentage := 0.0
		if total > 0 {
			percentage = float64(count) / float64(total) * 100
		}

		stats = append(stats, RuleStat{
			Name:        rule.Name,
			Percentage:  percentage,
			Count:       count,
			Description: rule.Description,
			Severity:    rule.Severity,
		})
	}

	return stats, total
}

// ClientStat ranks one client by the share of its records violating the
// critical rule subset.
type ClientStat struct {
	ClientName                  string  `json:"clientName"`
	CriticalAnomaliesCount      int     `json:"criticalAnomaliesCount"`
	TotalLogs                   int     `json:"totalLogs"`
	CriticalAnomaliesPercentage float64 `json:"criticalAnomaliesPercentage"`
}

// CriticalClients groups records by source name and counts, per client, the
// records violating at least one of the given rules. Clients without
// violations are omitted. Results are sorted by descending percentage, with
// the client name breaking ties so the ranking is stable across runs.
func CriticalClients(records []models.LogRecord, rules []Rule) []ClientStat {
	type tally struct {
		total    int
		critical int
	}
	byClient := make(map[string]*tally)

	for _, rec := range records {
		t := byClient[rec.SourceName]
		if t == nil {
			t = &tally{}
			byClient[rec.SourceName] = t
		}
		t.total++
		for _, rule := range rules {
			if rule.Violates(rec) {
				t.critical++
				break
			}
		}
	}

	stats := []ClientStat{}
	for name, t := range byClient {
		if t.critical == 0 {
			continue
		}
		stats = append(stats, ClientStat{
			ClientName:                  name,
			CriticalAnomaliesCount:      t.critical,
			TotalLogs:                   t.total,
			CriticalAnomaliesPercentage: float64(t.critical) / float64(t.total) * 100,
		})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].CriticalAnomaliesPercentage != stats[j].CriticalAnomaliesPercentage {
			return stats[i].CriticalAnomaliesPercentage > stats[j].CriticalAnomaliesPercentage
		}
		return stats[i].ClientName < stats[j].ClientName
	})

	return stats
}

// JobsComparison is one row of the jobs-feed-vs-index view.
type JobsComparison struct {
	ID              string    `json:"id"`
	SourceName      string    `json:"sourceName"`
	CountryCode     string    `json:"countryCode"`
	JobsInFeed      int64     `json:"jobsInFeed"`
	JobsSentToIndex int64     `json:"jobsSentToIndex"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewJobsComparison projects records into comparison rows sorted for display:
// rows violating the Index Overflow rule first, most recent timestamp breaking
// ties.
func NewJobsComparison(records []models.LogRecord) []JobsComparison {
	rows := make([]JobsComparison, 0, len(records))
	for _, rec := range records {
		rows = append(rows, JobsComparison{
			ID:              rec.ID,
			SourceName:      rec.SourceName,
			CountryCode:     rec.CountryCode,
			JobsInFeed:      rec.Progress.JobsInFeed,
			JobsSentToIndex: rec.Progress.JobsSentToIndex,
			Timestamp:       rec.Timestamp,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		iAnomalous := rows[i].JobsSentToIndex > rows[i].JobsInFeed
		jAnomalous := rows[j].JobsSentToIndex > rows[j].JobsInFeed
		if iAnomalous != jAnomalous {
			return iAnomalous
		}
		return rows[i].Timestamp.After(rows[j].Timestamp)
	})

	return rows
}
