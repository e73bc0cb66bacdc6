package planner

// PlanRecord is one structured execution plan produced by the model.
type PlanRecord struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
	StepCount   int      `json:"step_num"`
	Advantages  []string `json:"advantages"`
}

const (
	DefaultFallbackTitle       = "Fallback plan"
	DefaultFallbackDescription = "A technical problem occurred; engineers notified"
)

// FallbackPlan returns the fixed record shown when generation fails. It is
// never run through Validate. Empty arguments select the defaults.
func FallbackPlan(title, description string) PlanRecord {
	if title == "" {
		title = DefaultFallbackTitle
	}
	if description == "" {
		description = DefaultFallbackDescription
	}
	return PlanRecord{
		Title:       title,
		Description: description,
		Steps:       []string{"Please try again later"},
		StepCount:   1,
		Advantages:  []string{"24/7 technical support"},
	}
}

// Clone returns a deep copy so callers cannot mutate shared slices.
func (p PlanRecord) Clone() PlanRecord {
	p.Steps = append([]string(nil), p.Steps...)
	p.Advantages = append([]string(nil), p.Advantages...)
	return p
}

// ClonePlans deep-copies a slice of records.
func ClonePlans(in []PlanRecord) []PlanRecord {
	if in == nil {
		return nil
	}
	out := make([]PlanRecord, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

// StepCountMismatch reports whether step_num disagrees with len(steps).
// Validate accepts such records as-is.
func (p PlanRecord) StepCountMismatch() bool {
	return p.StepCount != len(p.Steps)
}
