// Package fusion combines the two classifier probabilities into the final
// score, verdict and binary label.
package fusion

// Verdict is the three-tier classification shown to users.
type Verdict string

const (
	Safe       Verdict = "SAFE"
	Suspicious Verdict = "SUSPICIOUS"
	Phishing   Verdict = "PHISHING"
)

// Thresholds on the fused score. SuspiciousAt and PhishingAt are inclusive
// lower bounds for their tiers. LabelAt is independent of the verdict tiers.
const (
	SuspiciousAt = 0.30
	PhishingAt   = 0.60
	LabelAt      = 0.5
)

// Decision is the fused outcome for one URL.
type Decision struct {
	Fused   float64 `json:"fused_score"`
	Verdict Verdict `json:"verdict"`
	Label   int     `json:"label"`
}

// Fuse averages the tabular and sequence probabilities with equal weight and
// maps the result onto a verdict and label.
func Fuse(rf, cnn float64) Decision {
	fused := (rf + cnn) / 2
	return Decision{
		Fused:   fused,
		Verdict: VerdictFor(fused),
		Label:   LabelFor(fused),
	}
}

// VerdictFor maps a fused score onto its tier.
func VerdictFor(fused float64) Verdict {
	switch {
	case fused < SuspiciousAt:
		return Safe
	case fused < PhishingAt:
		return Suspicious
	default:
		return Phishing
	}
}

// LabelFor returns 1 when fused >= 0.5.
func LabelFor(fused float64) int {
	if fused >= LabelAt {
		return 1
	}
	return 0
}
