package domain

import "time"

// Risk flags attached to assessments and persisted transactions.
const (
	FlagVelocity       = "VELOCITY"
	FlagAmount         = "AMOUNT"
	FlagMerchant       = "MERCHANT"
	FlagTimePattern    = "TIME_PATTERN"
	FlagBehavior       = "BEHAVIOR"
	FlagGeographic     = "GEOGRAPHIC"
	FlagDetectionError = "DETECTION_ERROR"
)

// RiskAssessment is the composite fraud evaluation of a single request.
type RiskAssessment struct {
	RiskScore    float64  `json:"riskScore"`
	IsFraudulent bool     `json:"isFraudulent"`
	Flags        []string `json:"flags"`
	Reasons      []string `json:"reasons"`
}

// HasFlag reports whether flag was raised.
func (a RiskAssessment) HasFlag(flag string) bool {
	for _, f := range a.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// FallbackAssessment is used when the risk engine itself fails.
func FallbackAssessment() RiskAssessment {
	return RiskAssessment{
		RiskScore:    0.1,
		IsFraudulent: false,
		Flags:        []string{FlagDetectionError},
		Reasons:      []string{"fraud detection error"},
	}
}

// VelocityCounter is the ephemeral per-user request count in a trailing window.
type VelocityCounter struct {
	UserID        string
	WindowMinutes int
	Count         int64
	ExpiresAt     time.Time
}

// MerchantStats aggregates a merchant's recent outcomes.
type MerchantStats struct {
	Merchant string `json:"merchant"`
	Total    int64  `json:"total"`
	Declined int64  `json:"declined"`
}

// DeclineRate returns declined/total, or zero when there is no history.
func (m MerchantStats) DeclineRate() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Declined) / float64(m.Total)
}
