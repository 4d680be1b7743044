package types

import "fmt"

// Certainty is the coarse classification of a resolved edge
type Certainty string

const (
	CertaintyCertain   Certainty = "certain"
	CertaintyUncertain Certainty = "uncertain"
)

// DefaultCertaintyThreshold is the confidence at or above which a resolution
// is classified as certain.
const DefaultCertaintyThreshold = 0.7

// CertaintyFromConfidence maps a confidence score to a certainty. A nil score
// yields a nil certainty.
func CertaintyFromConfidence(confidence *float64, threshold float64) *Certainty {
	if confidence == nil {
		return nil
	}
	c := CertaintyUncertain
	if *confidence >= threshold {
		c = CertaintyCertain
	}
	return &c
}

// ParseCertainty converts a persisted certainty label
func ParseCertainty(s string) (Certainty, error) {
	switch Certainty(s) {
	case CertaintyCertain, CertaintyUncertain:
		return Certainty(s), nil
	}
	return "", fmt.Errorf("unknown certainty %q", s)
}
