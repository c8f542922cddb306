package takehome

import "fmt"

// Ineligibility reasons other than the day limit.
const (
	ReasonOpenHold     = "Patient has an active compliance hold"
	ReasonPositiveUDS  = "Recent positive drug screen"
	reasonExceedsLimit = "Exceeds maximum %d days for %s risk level"
)

// MaxConsecutiveDays is the longest take-home run allowed for a risk level:
// 3 days for high, 14 for low and 7 otherwise.
func MaxConsecutiveDays(riskLevel string) int {
	switch riskLevel {
	case RiskHigh:
		return 3
	case RiskLow:
		return 14
	default:
		return 7
	}
}

// EligibilityInput is everything the rule needs; lookups happen before.
type EligibilityInput struct {
	RiskLevel          string
	Days               int
	HasOpenHold        bool
	RecentPositiveUDS  bool
	AutoHoldOnPositive bool
}

// Eligibility is the decision returned to callers. Reasons is never nil.
type Eligibility struct {
	Eligible bool     `json:"eligible"`
	Reasons  []string `json:"reasons"`
	MaxDays  int      `json:"max_days"`
}

// Evaluate applies the take-home rules. A positive screen only counts when
// the auto-hold policy is on.
func Evaluate(in EligibilityInput) Eligibility {
	maxDays := MaxConsecutiveDays(in.RiskLevel)
	reasons := []string{}
	if in.Days > maxDays {
		reasons = append(reasons, fmt.Sprintf(reasonExceedsLimit, maxDays, in.RiskLevel))
	}
	if in.HasOpenHold {
		reasons = append(reasons, ReasonOpenHold)
	}
	if in.RecentPositiveUDS && in.AutoHoldOnPositive {
		reasons = append(reasons, ReasonPositiveUDS)
	}
	return Eligibility{Eligible: len(reasons) == 0, Reasons: reasons, MaxDays: maxDays}
}
