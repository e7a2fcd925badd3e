package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/merchlift/email-tracking/internal/storage"
)

const ControlGroup = "control"

type CohortPerformanceRow struct {
	CohortName       string    `json:"cohort_name"`
	CohortBatch      int       `json:"cohort_batch"`
	TestGroup        string    `json:"test_group"`
	RampPhase        string    `json:"ramp_phase"`
	EmailsSent       int       `json:"emails_sent"`
	EmailsOpened     int       `json:"emails_opened"`
	OpenRate         float64   `json:"open_rate"`
	AvgOpensPerEmail float64   `json:"avg_opens_per_email"`
	FirstSentAt      time.Time `json:"first_sent_at"`
	LastSentAt       time.Time `json:"last_sent_at"`
}

type ABTestRow struct {
	TestGroup       string   `json:"test_group"`
	EmailsSent      int      `json:"emails_sent"`
	EmailsOpened    int      `json:"emails_opened"`
	OpenRate        float64  `json:"open_rate"`
	UniqueMerchants int      `json:"unique_merchants"`
	OpenRateDiff    *float64 `json:"open_rate_diff,omitempty"`
	OpenRateLiftPct *float64 `json:"open_rate_lift_pct,omitempty"`
}

type OverallTotals struct {
	TotalEmails     int     `json:"total_emails"`
	TotalOpens      int     `json:"total_opens"`
	OverallOpenRate float64 `json:"overall_open_rate"`
	UniqueMerchants int     `json:"unique_merchants"`
	TotalCohorts    int     `json:"total_cohorts"`
}

type PhaseBreakdownRow struct {
	RampPhase        string    `json:"ramp_phase"`
	EmailsSent       int       `json:"emails_sent"`
	EmailsOpened     int       `json:"emails_opened"`
	OpenRate         float64   `json:"open_rate"`
	AvgOpensPerEmail float64   `json:"avg_opens_per_email"`
	FirstSentAt      time.Time `json:"first_sent_at"`
	LastSentAt       time.Time `json:"last_sent_at"`
}

type CohortSummaryRow struct {
	CohortName    string  `json:"cohort_name"`
	EmailsSent    int     `json:"emails_sent"`
	EmailsOpened  int     `json:"emails_opened"`
	OpenRate      float64 `json:"open_rate"`
	MerchantCount int     `json:"merchant_count"`
	Status        string  `json:"status"`
}

type RampDashboard struct {
	Totals  OverallTotals       `json:"totals"`
	Phases  []PhaseBreakdownRow `json:"phases"`
	Cohorts []CohortSummaryRow  `json:"cohorts"`
}

type cohortKey struct {
	CohortName  string
	CohortBatch int
	TestGroup   string
	RampPhase   string
}

type bucket struct {
	sent        int
	opened      int
	totalOpens  int
	merchants   map[string]struct{}
	firstSentAt time.Time
	lastSentAt  time.Time
}

// CohortPerformance groups send records by (cohort, batch, test group, ramp phase),
// ordered lexicographically by the group key so output is reproducible.
func CohortPerformance(records []storage.SendRecord) []CohortPerformanceRow {
	buckets := make(map[cohortKey]*bucket)

	for _, record := range records {
		key := cohortKey{record.CohortName, record.CohortBatch, record.TestGroup, record.RampPhase}
		add(buckets, key, record)
	}

	keys := make([]cohortKey, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CohortName != keys[j].CohortName {
			return keys[i].CohortName < keys[j].CohortName
		}
		if keys[i].CohortBatch != keys[j].CohortBatch {
			return keys[i].CohortBatch < keys[j].CohortBatch
		}
		if keys[i].TestGroup != keys[j].TestGroup {
			return keys[i].TestGroup < keys[j].TestGroup
		}

		return keys[i].RampPhase < keys[j].RampPhase
	})

	rows := make([]CohortPerformanceRow, 0, len(keys))
	for _, key := range keys {
		b := buckets[key]

		rows = append(rows, CohortPerformanceRow{
			CohortName:       key.CohortName,
			CohortBatch:      key.CohortBatch,
			TestGroup:        key.TestGroup,
			RampPhase:        key.RampPhase,
			EmailsSent:       b.sent,
			EmailsOpened:     b.opened,
			OpenRate:         openRate(b.opened, b.sent),
			AvgOpensPerEmail: avgOpens(b.totalOpens, b.sent),
			FirstSentAt:      b.firstSentAt,
			LastSentAt:       b.lastSentAt,
		})
	}

	return rows
}

// ABTestResults groups send records by test group and compares every
// non-control group against the control group. When groups is non-empty the
// result is restricted to those labels in the requested order, otherwise all
// groups are reported in lexicographic order. Lift is omitted when the
// control open rate is zero, a huge percentage against a zero base would only
// mislead.
func ABTestResults(records []storage.SendRecord, groups []string) []ABTestRow {
	buckets := make(map[string]*bucket)

	for _, record := range records {
		b, ok := buckets[record.TestGroup]
		if !ok {
			b = newBucket()
			buckets[record.TestGroup] = b
		}

		fill(b, record)
	}

	var order []string
	if len(groups) > 0 {
		for _, group := range groups {
			if _, ok := buckets[group]; ok {
				order = append(order, group)
			}
		}
	} else {
		for group := range buckets {
			order = append(order, group)
		}

		sort.Strings(order)
	}

	rows := make([]ABTestRow, 0, len(order))
	for _, group := range order {
		b := buckets[group]

		rows = append(rows, ABTestRow{
			TestGroup:       group,
			EmailsSent:      b.sent,
			EmailsOpened:    b.opened,
			OpenRate:        openRate(b.opened, b.sent),
			UniqueMerchants: len(b.merchants),
		})
	}

	var control *ABTestRow
	for i := range rows {
		if rows[i].TestGroup == ControlGroup {
			control = &rows[i]

			break
		}
	}

	if control == nil {
		return rows
	}

	for i := range rows {
		if rows[i].TestGroup == ControlGroup {
			continue
		}

		diff := round2(rows[i].OpenRate - control.OpenRate)
		rows[i].OpenRateDiff = &diff

		if control.OpenRate != 0 {
			lift := round2(100 * diff / control.OpenRate)
			rows[i].OpenRateLiftPct = &lift
		}
	}

	return rows
}

// Dashboard builds the ramp rollout view: overall totals, a per-phase
// breakdown, and a per-cohort summary joined against merchant cohort rows.
func Dashboard(records []storage.SendRecord, cohorts []storage.MerchantCohort) RampDashboard {
	totals := newBucket()
	cohortNames := make(map[string]struct{})
	phases := make(map[string]*bucket)
	byCohort := make(map[string]*bucket)

	for _, record := range records {
		fill(totals, record)
		cohortNames[record.CohortName] = struct{}{}

		phase, ok := phases[record.RampPhase]
		if !ok {
			phase = newBucket()
			phases[record.RampPhase] = phase
		}

		fill(phase, record)

		c, ok := byCohort[record.CohortName]
		if !ok {
			c = newBucket()
			byCohort[record.CohortName] = c
		}

		fill(c, record)
	}

	merchantCounts := make(map[string]int)
	statuses := make(map[string]string)
	statusEnrolledAt := make(map[string]time.Time)

	for _, cohort := range cohorts {
		merchantCounts[cohort.CohortName]++

		// The most recently enrolled row wins as the current status.
		if cohort.EnrolledAt.Before(statusEnrolledAt[cohort.CohortName]) {
			continue
		}

		statuses[cohort.CohortName] = cohort.Status
		statusEnrolledAt[cohort.CohortName] = cohort.EnrolledAt
	}

	phaseOrder := make([]string, 0, len(phases))
	for phase := range phases {
		phaseOrder = append(phaseOrder, phase)
	}
	sort.Strings(phaseOrder)

	phaseRows := make([]PhaseBreakdownRow, 0, len(phaseOrder))
	for _, phase := range phaseOrder {
		b := phases[phase]

		phaseRows = append(phaseRows, PhaseBreakdownRow{
			RampPhase:        phase,
			EmailsSent:       b.sent,
			EmailsOpened:     b.opened,
			OpenRate:         openRate(b.opened, b.sent),
			AvgOpensPerEmail: avgOpens(b.totalOpens, b.sent),
			FirstSentAt:      b.firstSentAt,
			LastSentAt:       b.lastSentAt,
		})
	}

	cohortOrder := make([]string, 0, len(byCohort))
	for name := range byCohort {
		cohortOrder = append(cohortOrder, name)
	}
	sort.Strings(cohortOrder)

	cohortRows := make([]CohortSummaryRow, 0, len(cohortOrder))
	for _, name := range cohortOrder {
		b := byCohort[name]

		status, ok := statuses[name]
		if !ok {
			status = "unknown"
		}

		cohortRows = append(cohortRows, CohortSummaryRow{
			CohortName:    name,
			EmailsSent:    b.sent,
			EmailsOpened:  b.opened,
			OpenRate:      openRate(b.opened, b.sent),
			MerchantCount: merchantCounts[name],
			Status:        status,
		})
	}

	return RampDashboard{
		Totals: OverallTotals{
			TotalEmails:     totals.sent,
			TotalOpens:      totals.totalOpens,
			OverallOpenRate: openRate(totals.opened, totals.sent),
			UniqueMerchants: len(totals.merchants),
			TotalCohorts:    len(cohortNames),
		},
		Phases:  phaseRows,
		Cohorts: cohortRows,
	}
}

func newBucket() *bucket {
	return &bucket{merchants: make(map[string]struct{})}
}

func add(buckets map[cohortKey]*bucket, key cohortKey, record storage.SendRecord) {
	b, ok := buckets[key]
	if !ok {
		b = newBucket()
		buckets[key] = b
	}

	fill(b, record)
}

func fill(b *bucket, record storage.SendRecord) {
	b.sent++
	b.totalOpens += record.OpenCount
	b.merchants[record.MerchantID] = struct{}{}

	if record.OpenCount > 0 {
		b.opened++
	}

	if b.firstSentAt.IsZero() || record.CreatedAt.Before(b.firstSentAt) {
		b.firstSentAt = record.CreatedAt
	}

	if record.CreatedAt.After(b.lastSentAt) {
		b.lastSentAt = record.CreatedAt
	}
}

// openRate returns 0 when nothing was sent, a report must never divide by zero.
func openRate(opened int, sent int) float64 {
	if sent == 0 {
		return 0
	}

	return round2(100 * float64(opened) / float64(sent))
}

func avgOpens(totalOpens int, sent int) float64 {
	if sent == 0 {
		return 0
	}

	return round2(float64(totalOpens) / float64(sent))
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
