package harness

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success.
	// True when every expectation matched.
	Pass bool `json:"pass"`

	// EventIDs holds the generated parent-row ids, in append order.
	// Expectations address events by 1-based position into this slice.
	EventIDs []int64 `json:"event_ids"`

	// Snapshot is the deterministic text rendering of the three tables,
	// captured after all events were appended. Used for golden comparison.
	Snapshot []byte `json:"-"`

	// Errors contains expectation failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		EventIDs: []int64{},
		Errors:   []string{},
	}
}

// AddError records an expectation failure and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// AddEventID records the id assigned to an appended event.
func (r *Result) AddEventID(id int64) {
	r.EventIDs = append(r.EventIDs, id)
}
