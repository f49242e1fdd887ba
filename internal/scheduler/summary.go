package scheduler

// TaskRef identifies a unit in a RunSummary. Error is set for failed units
// and, for skipped units, names the dependency that caused the skip.
type TaskRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

// TaskLists groups the units of a run by outcome, in registration order.
type TaskLists struct {
	Completed []TaskRef `json:"completed"`
	Failed    []TaskRef `json:"failed"`
	Skipped   []TaskRef `json:"skipped"`
	// Pending lists units a stopped run never reached.
	Pending []TaskRef `json:"pending"`
}

// RunSummary is the outcome of one Run call.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Total       int       `json:"total"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	SuccessRate float64   `json:"success_rate"`
	Tasks       TaskLists `json:"tasks"`
}

// OK reports whether every unit completed.
func (r *RunSummary) OK() bool {
	return r.Total == r.Completed
}

// summarize builds a RunSummary from the current unit states.
// The caller must hold s.mu.
func (s *Scheduler) summarize(runID string) *RunSummary {
	summary := &RunSummary{
		RunID: runID,
		Total: len(s.order),
		Tasks: TaskLists{
			Completed: []TaskRef{},
			Failed:    []TaskRef{},
			Skipped:   []TaskRef{},
			Pending:   []TaskRef{},
		},
	}

	for _, id := range s.order {
		u := s.units[id]
		ref := TaskRef{ID: u.ID, Name: u.Name}
		switch u.Status {
		case StatusCompleted:
			summary.Tasks.Completed = append(summary.Tasks.Completed, ref)
		case StatusFailed:
			if u.Err != nil {
				ref.Error = u.Err.Error()
			}
			summary.Tasks.Failed = append(summary.Tasks.Failed, ref)
		case StatusSkipped:
			if u.Err != nil {
				ref.Error = u.Err.Error()
			}
			summary.Tasks.Skipped = append(summary.Tasks.Skipped, ref)
		default:
			summary.Tasks.Pending = append(summary.Tasks.Pending, ref)
		}
	}

	summary.Completed = len(summary.Tasks.Completed)
	summary.Failed = len(summary.Tasks.Failed)
	summary.Skipped = len(summary.Tasks.Skipped)
	if summary.Total > 0 {
		summary.SuccessRate = float64(summary.Completed) / float64(summary.Total)
	}
	return summary
}
