package harness

// StepResult is the engine report of one step.
type StepResult struct {
	Name      string   `json:"name"`
	Seq       int64    `json:"seq"`
	Ran       []string `json:"ran,omitempty"`
	Written   []string `json:"written,omitempty"`
	Unchanged []string `json:"unchanged,omitempty"`
	Deferred  []string `json:"deferred,omitempty"`
	Failed    []string `json:"failed,omitempty"`

	// Errors holds "CODE subject" for every failure of a build error, or the
	// drain error text otherwise.
	Errors []string `json:"errors,omitempty"`

	err error
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	BatchToken string       `json:"batch_token"`
	Steps      []StepResult `json:"steps"`

	// Artifacts maps artifact file names to their final content.
	Artifacts map[string][]byte `json:"-"`

	// Executions counts executor calls over the whole scenario.
	Executions int `json:"executions"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult(token string) *Result {
	return &Result{
		Pass:       true,
		BatchToken: token,
		Artifacts:  make(map[string][]byte),
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
