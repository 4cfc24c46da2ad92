package domain

const (
	MinCompatibilityScore = 0
	MaxCompatibilityScore = 100
)

// CompatibilityScore rates how well a platform adapter fits the current host
type CompatibilityScore struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// NewCompatibilityScore clamps raw into [0,100]
func NewCompatibilityScore(raw int, reasons []string) CompatibilityScore {
	if raw < MinCompatibilityScore {
		raw = MinCompatibilityScore
	}
	if raw > MaxCompatibilityScore {
		raw = MaxCompatibilityScore
	}
	return CompatibilityScore{Score: raw, Reasons: reasons}
}

// Compatible reports whether the adapter can run at all
func (c CompatibilityScore) Compatible() bool {
	return c.Score > MinCompatibilityScore
}
