package importer

// ImportContext is the run state of one handler: the rows it works on, the
// rows it has imported so far, its phase and a keyed data bag for passing
// extra values between handlers of the same run.
//
// A context is owned by exactly one handler and is never shared.
type ImportContext[R any] struct {
	rows     []R
	imported []R
	phase    StepPhase
	data     map[string]any
}

// NewImportContext returns an empty context in PhaseEnqueued.
func NewImportContext[R any]() *ImportContext[R] {
	return &ImportContext[R]{phase: PhaseEnqueued}
}

func (c *ImportContext[R]) Rows() []R { return c.rows }
func (c *ImportContext[R]) Imported() []R { return c.imported }
func (c *ImportContext[R]) Phase() StepPhase { return c.phase }
func (c *ImportContext[R]) SetRows(rows []R) { c.rows = rows }
func (c *ImportContext[R]) SetPhase(p StepPhase) { c.phase = p }

// AddImported appends rows that passed through a commit.
func (c *ImportContext[R]) AddImported(rows ...R) {
	c.imported = append(c.imported, rows...)
}

// Set stores a value in the data bag.
func (c *ImportContext[R]) Set(key string, value any) {
	if c.data == nil {
		c.data = make(map[string]any)
	}
	c.data[key] = value
}

// Get returns a value from the data bag.
func (c *ImportContext[R]) Get(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// GetString returns a string value from the data bag, or "" when absent.
func (c *ImportContext[R]) GetString(key string) string {
	v, _ := c.data[key].(string)
	return v
}

// Reset clears rows, imported rows and data and returns to PhaseEnqueued.
func (c *ImportContext[R]) Reset() {
	c.rows = nil
	c.imported = nil
	c.data = nil
	c.phase = PhaseEnqueued
}
