package orchestrator

import "time"

// ScheduleStatus reports how one schedule fared in a pass
type ScheduleStatus string

const (
	// StatusProcessed means the schedule was due and fully handled
	StatusProcessed ScheduleStatus = "processed"
	// StatusDisabled means the schedule is switched off
	StatusDisabled ScheduleStatus = "disabled"
	// StatusNotDue means the cron expression did not match the current minute
	StatusNotDue ScheduleStatus = "not_due"
	// StatusError means processing failed partway; last_run was not advanced
	StatusError ScheduleStatus = "error"
)

// ScheduleResult captures one schedule's outcome
type ScheduleResult struct {
	ScheduleID  string
	Status      ScheduleStatus
	EmailsFound int
	Downloaded  int
	Skipped     int
	Rejected    int
	Err         error
}

// Summary aggregates a whole pass
type Summary struct {
	PassID     string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []ScheduleResult
}

// Failed counts schedules that errored
func (s *Summary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if r.Status == StatusError {
			n++
		}
	}
	return n
}

// Processed counts schedules that completed
func (s *Summary) Processed() int {
	n := 0
	for _, r := range s.Results {
		if r.Status == StatusProcessed {
			n++
		}
	}
	return n
}

// ExitCode is zero only when every schedule in the pass succeeded or was
// legitimately skipped
func (s *Summary) ExitCode() int {
	if s.Failed() > 0 {
		return 1
	}
	return 0
}
