package cohort

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrMissingField = errors.New("missing required field")

const (
	UnknownMerchant = "unknown"
	DefaultCampaign = "general_outreach"
	UnassignedGroup = "unassigned"
	DefaultPhase    = "pilot"

	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Known labels are advisory, new groups and phases get added operationally
// without a code change, so unknown labels pass through untouched.
var (
	KnownTestGroups = []string{"control", "variant_a", "variant_b"}
	KnownRampPhases = []string{"pilot", "ramp_up", "full_rollout"}
)

type SendFields struct {
	RecipientAddress string
	SenderAddress    string
	Subject          string
	CampaignName     string
	MerchantID       string
	AccountID        string
	CohortName       string
	CohortBatch      int
	TestGroup        string
	RampPhase        string
	EnrolledAt       time.Time
}

// Assignment is the resolved cohort placement for one send. All fallbacks are
// evaluated here once, at send time, and recorded on the send record so that
// historical reports stay stable even if fallback rules change later.
type Assignment struct {
	CampaignName string
	MerchantID   string
	CohortName   string
	CohortBatch  int
	TestGroup    string
	RampPhase    string
	EnrolledAt   time.Time
}

func Validate(fields SendFields) error {
	if strings.TrimSpace(fields.RecipientAddress) == "" {
		return fmt.Errorf("recipient address is required, %w", ErrMissingField)
	}

	if strings.TrimSpace(fields.Subject) == "" {
		return fmt.Errorf("subject is required, %w", ErrMissingField)
	}

	return nil
}

func Assign(fields SendFields, now time.Time) (Assignment, error) {
	if err := Validate(fields); err != nil {
		return Assignment{}, err
	}

	cohortName := normalizeLabel(fields.CohortName)
	testGroup := NormalizeTestGroup(fields.TestGroup)
	rampPhase := NormalizeRampPhase(fields.RampPhase)

	enrolledAt := fields.EnrolledAt
	if enrolledAt.IsZero() {
		enrolledAt = now
	}

	// Batch numbers start at zero, a negative value is treated as the first batch.
	cohortBatch := fields.CohortBatch
	if cohortBatch < 0 {
		cohortBatch = 0
	}

	return Assignment{
		CampaignName: DeriveCampaign(fields.CampaignName, fields.CohortName, fields.TestGroup, now),
		MerchantID:   ResolveMerchant(fields.MerchantID, fields.AccountID),
		CohortName:   cohortName,
		CohortBatch:  cohortBatch,
		TestGroup:    testGroup,
		RampPhase:    rampPhase,
		EnrolledAt:   enrolledAt,
	}, nil
}

// ResolveMerchant applies the merchant fallback chain:
// merchant id, then account id, then the unknown sentinel.
func ResolveMerchant(merchantID string, accountID string) string {
	if id := strings.TrimSpace(merchantID); id != "" {
		return id
	}

	if id := strings.TrimSpace(accountID); id != "" {
		return id
	}

	return UnknownMerchant
}

// DeriveCampaign keeps an explicit campaign name as-is. Without one it builds
// "{cohort}_{group}_{yyyy-mm}" from the current month, or falls back to the
// default campaign label when cohort or group are missing too.
func DeriveCampaign(campaignName string, cohortName string, testGroup string, now time.Time) string {
	if name := strings.TrimSpace(campaignName); name != "" {
		return name
	}

	cohortName = normalizeLabel(cohortName)
	testGroup = normalizeLabel(testGroup)

	if cohortName == "" || testGroup == "" {
		return DefaultCampaign
	}

	return fmt.Sprintf("%s_%s_%s", cohortName, testGroup, now.Format("2006-01"))
}

func NormalizeTestGroup(group string) string {
	if normalized := normalizeLabel(group); normalized != "" {
		return normalized
	}

	return UnassignedGroup
}

func NormalizeRampPhase(phase string) string {
	if normalized := normalizeLabel(phase); normalized != "" {
		return normalized
	}

	return DefaultPhase
}

func KnownTestGroup(group string) bool {
	return containsLabel(KnownTestGroups, normalizeLabel(group))
}

func KnownRampPhase(phase string) bool {
	return containsLabel(KnownRampPhases, normalizeLabel(phase))
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

func containsLabel(labels []string, label string) bool {
	for _, known := range labels {
		if known == label {
			return true
		}
	}

	return false
}
