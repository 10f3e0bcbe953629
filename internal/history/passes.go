package history

import (
	"database/sql"
	"time"
)

// Pass represents one complete processing pass over the schedules
type Pass struct {
	ID                 string
	StartedAt          time.Time
	FinishedAt         *time.Time
	SchedulesProcessed int
	SchedulesFailed    int
}

// ScheduleRun represents one schedule's outcome within a pass
type ScheduleRun struct {
	PassID      string
	ScheduleID  string
	Status      string
	EmailsFound int
	Downloaded  int
	Skipped     int
	Rejected    int
	Error       *string
}

// Artifact represents a stored attachment
type Artifact struct {
	MessageID    string
	AttachmentID string
	Path         string
	Size         int64
	DownloadedAt time.Time
}

// BeginPass records the start of a processing pass
func (db *DB) BeginPass(passID string, startedAt time.Time) error {
	query := `
		INSERT INTO passes (pass_id, started_at)
		VALUES (?, ?)
	`

	_, err := db.Exec(query, passID, startedAt)
	return err
}

// FinishPass records the completion of a pass and its totals
func (db *DB) FinishPass(passID string, finishedAt time.Time, processed, failed int) error {
	query := `
		UPDATE passes
		SET finished_at = ?, schedules_processed = ?, schedules_failed = ?
		WHERE pass_id = ?
	`

	result, err := db.Exec(query, finishedAt, processed, failed, passID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// GetPass retrieves a pass by id
func (db *DB) GetPass(passID string) (*Pass, error) {
	pass := &Pass{}

	query := `
		SELECT pass_id, started_at, finished_at, schedules_processed, schedules_failed
		FROM passes
		WHERE pass_id = ?
	`

	err := db.QueryRow(query, passID).Scan(
		&pass.ID,
		&pass.StartedAt,
		&pass.FinishedAt,
		&pass.SchedulesProcessed,
		&pass.SchedulesFailed,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return pass, nil
}

// RecentPasses retrieves the most recent passes, newest first
func (db *DB) RecentPasses(limit int) ([]Pass, error) {
	query := `
		SELECT pass_id, started_at, finished_at, schedules_processed, schedules_failed
		FROM passes
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passes []Pass
	for rows.Next() {
		var pass Pass
		err := rows.Scan(
			&pass.ID,
			&pass.StartedAt,
			&pass.FinishedAt,
			&pass.SchedulesProcessed,
			&pass.SchedulesFailed,
		)
		if err != nil {
			return nil, err
		}
		passes = append(passes, pass)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	// Return empty slice instead of nil
	if passes == nil {
		passes = []Pass{}
	}

	return passes, nil
}

// RecordScheduleRun appends one schedule's outcome to a pass
func (db *DB) RecordScheduleRun(run *ScheduleRun) error {
	query := `
		INSERT INTO schedule_runs (pass_id, schedule_id, status, emails_found, downloaded, skipped, rejected, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		run.PassID,
		run.ScheduleID,
		run.Status,
		run.EmailsFound,
		run.Downloaded,
		run.Skipped,
		run.Rejected,
		run.Error,
	)

	return err
}

// GetScheduleRuns retrieves all schedule outcomes for a pass
func (db *DB) GetScheduleRuns(passID string) ([]ScheduleRun, error) {
	query := `
		SELECT pass_id, schedule_id, status, emails_found, downloaded, skipped, rejected, error
		FROM schedule_runs
		WHERE pass_id = ?
		ORDER BY id
	`

	rows, err := db.Query(query, passID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ScheduleRun
	for rows.Next() {
		var run ScheduleRun
		err := rows.Scan(
			&run.PassID,
			&run.ScheduleID,
			&run.Status,
			&run.EmailsFound,
			&run.Downloaded,
			&run.Skipped,
			&run.Rejected,
			&run.Error,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	if runs == nil {
		runs = []ScheduleRun{}
	}

	return runs, nil
}

// RecordArtifact records a stored attachment. Re-recording the same
// attachment is a duplicate, surfaced for the caller to ignore.
func (db *DB) RecordArtifact(a *Artifact) error {
	query := `
		INSERT INTO artifacts (message_id, attachment_id, path, size, downloaded_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		a.MessageID,
		a.AttachmentID,
		a.Path,
		a.Size,
		a.DownloadedAt,
	)
	if err != nil && IsDuplicate(err) {
		return ErrDuplicate
	}

	return err
}

// GetArtifact retrieves a stored attachment record
func (db *DB) GetArtifact(messageID, attachmentID string) (*Artifact, error) {
	a := &Artifact{}

	query := `
		SELECT message_id, attachment_id, path, size, downloaded_at
		FROM artifacts
		WHERE message_id = ? AND attachment_id = ?
	`

	err := db.QueryRow(query, messageID, attachmentID).Scan(
		&a.MessageID,
		&a.AttachmentID,
		&a.Path,
		&a.Size,
		&a.DownloadedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return a, nil
}
