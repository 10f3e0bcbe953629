// Package orchestrator runs one processing pass over the persisted
// schedules: decide which are due, search for matching messages, hand their
// attachments to the download pipeline, and advance each schedule's
// last-run marker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/payfetch/internal/cron"
	"github.com/livinlefevreloca/payfetch/internal/gmail"
	"github.com/livinlefevreloca/payfetch/internal/history"
	"github.com/livinlefevreloca/payfetch/internal/pipeline"
	"github.com/livinlefevreloca/payfetch/internal/schedule"
)

// SearchClient finds messages matching a schedule's criteria.
// Satisfied by *gmail.Client.
type SearchClient interface {
	Search(ctx context.Context, q gmail.Query) ([]gmail.Message, error)
}

// Downloader stores one attachment. Satisfied by *pipeline.Pipeline.
type Downloader interface {
	FetchAndStore(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// ScheduleStore provides the schedules and records completed passes
type ScheduleStore interface {
	List(filter schedule.Filter) ([]schedule.Record, error)
	MarkRun(id string, ts time.Time) error
}

// Ledger records pass history. All ledger failures are logged and swallowed;
// history is never worth failing a pass over.
type Ledger interface {
	BeginPass(passID string, startedAt time.Time) error
	FinishPass(passID string, finishedAt time.Time, processed, failed int) error
	RecordScheduleRun(run *history.ScheduleRun) error
	RecordArtifact(a *history.Artifact) error
}

// Config holds orchestrator settings
type Config struct {
	// Timezone in which cron expressions are evaluated, IANA name or
	// "Local" / "UTC"
	Timezone string `toml:"timezone"`
}

// DefaultConfig evaluates schedules in the machine's local timezone, the
// same clock the user reads when writing a cron expression
func DefaultConfig() Config {
	return Config{
		Timezone: "Local",
	}
}

// Validate checks the timezone resolves
func (c Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("orchestrator: invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Orchestrator drives one pass over the schedules
type Orchestrator struct {
	store      ScheduleStore
	search     SearchClient
	downloader Downloader
	ledger     Ledger // may be nil
	location   *time.Location
	logger     *slog.Logger

	// now is swapped out in tests
	now func() time.Time
}

// New creates an orchestrator. A nil ledger disables history recording.
func New(
	store ScheduleStore,
	search SearchClient,
	downloader Downloader,
	ledger Ledger,
	cfg Config,
	logger *slog.Logger,
) (*Orchestrator, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: invalid timezone %q: %w", cfg.Timezone, err)
	}

	return &Orchestrator{
		store:      store,
		search:     search,
		downloader: downloader,
		ledger:     ledger,
		location:   loc,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// RunOnce executes one pass: every enabled schedule whose cron expression
// matches the current minute is searched and its attachments downloaded.
// Per-schedule failures are captured in the summary without stopping the
// pass; an authorization failure aborts it, since every remaining schedule
// would hit the same wall.
func (o *Orchestrator) RunOnce(ctx context.Context) (*Summary, error) {
	started := o.now()
	localNow := started.In(o.location)

	summary := &Summary{
		PassID:    uuid.NewString(),
		StartedAt: started,
	}

	o.logger.Info("starting pass", "pass_id", summary.PassID, "now", localNow)

	if o.ledger != nil {
		if err := o.ledger.BeginPass(summary.PassID, started.UTC()); err != nil {
			o.logger.Warn("failed to record pass start", "error", err)
		}
	}

	records, err := o.store.List(schedule.Filter{})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load schedules: %w", err)
	}

	var abortErr error
	for _, rec := range records {
		result := o.processSchedule(ctx, rec, localNow)
		summary.Results = append(summary.Results, result)
		o.recordResult(summary.PassID, result)

		if result.Err != nil && errors.Is(result.Err, gmail.ErrUnauthorized) {
			o.logger.Error("authorization failure, aborting pass",
				"schedule_id", rec.ID,
				"error", result.Err)
			abortErr = result.Err
			break
		}
	}

	summary.FinishedAt = o.now()

	if o.ledger != nil {
		if err := o.ledger.FinishPass(summary.PassID, summary.FinishedAt.UTC(), summary.Processed(), summary.Failed()); err != nil {
			o.logger.Warn("failed to record pass completion", "error", err)
		}
	}

	o.logger.Info("pass complete",
		"pass_id", summary.PassID,
		"schedules", len(summary.Results),
		"processed", summary.Processed(),
		"failed", summary.Failed(),
		"duration", summary.FinishedAt.Sub(summary.StartedAt))

	if abortErr != nil {
		return summary, abortErr
	}
	return summary, nil
}

// processSchedule handles one schedule within a pass
func (o *Orchestrator) processSchedule(ctx context.Context, rec schedule.Record, now time.Time) ScheduleResult {
	result := ScheduleResult{ScheduleID: rec.ID}

	if !rec.Enabled {
		result.Status = StatusDisabled
		o.logger.Debug("schedule disabled", "schedule_id", rec.ID)
		return result
	}

	sched, err := cron.Parse(rec.Cron)
	if err != nil {
		result.Status = StatusError
		result.Err = fmt.Errorf("orchestrator: stored cron expression no longer parses: %w", err)
		return result
	}

	if !sched.Matches(now) {
		result.Status = StatusNotDue
		o.logger.Debug("schedule not due", "schedule_id", rec.ID, "cron", rec.Cron)
		return result
	}

	// The search window opens at the last completed pass, or the epoch for
	// a schedule that has never run
	since := time.Unix(0, 0).UTC()
	if rec.LastRun != nil {
		since = *rec.LastRun
	}

	o.logger.Info("processing schedule",
		"schedule_id", rec.ID,
		"sender", redactEmail(rec.SenderEmail),
		"window_start", since)

	messages, err := o.search.Search(ctx, gmail.Query{
		Sender:          rec.SenderEmail,
		SubjectKeywords: rec.SubjectKeywords,
		Since:           since,
		Until:           now,
	})
	if err != nil {
		result.Status = StatusError
		result.Err = err
		return result
	}

	result.EmailsFound = len(messages)

	for _, msg := range messages {
		for _, att := range msg.Attachments {
			res, err := o.downloader.FetchAndStore(ctx, pipeline.Request{
				MessageID:    msg.ID,
				AttachmentID: att.ID,
				Filename:     att.Filename,
				MessageDate:  msg.Date,
				DeclaredSize: att.Size,
			})
			if err != nil {
				result.Status = StatusError
				result.Err = fmt.Errorf("attachment %s/%s: %w", msg.ID, att.ID, err)
				return result
			}

			switch res.Status {
			case pipeline.StatusDownloaded:
				result.Downloaded++
				o.recordArtifact(msg.ID, att.ID, res.Path, res.Size)
			case pipeline.StatusSkipped:
				result.Skipped++
			case pipeline.StatusRejected:
				result.Rejected++
			}
		}
	}

	// Advancing last_run closes the window even when nothing matched, so
	// the next pass does not re-search the same period
	if err := o.store.MarkRun(rec.ID, now.UTC()); err != nil {
		result.Status = StatusError
		result.Err = fmt.Errorf("orchestrator: mark schedule as run: %w", err)
		return result
	}

	result.Status = StatusProcessed
	o.logger.Info("schedule processed",
		"schedule_id", rec.ID,
		"emails", result.EmailsFound,
		"downloaded", result.Downloaded,
		"skipped", result.Skipped,
		"rejected", result.Rejected)

	return result
}

// redactEmail keeps the first character of the local part and the domain,
// enough to identify a schedule in logs without recording the full address
func redactEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 1 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// recordResult appends a schedule outcome to the ledger
func (o *Orchestrator) recordResult(passID string, result ScheduleResult) {
	if o.ledger == nil {
		return
	}

	run := &history.ScheduleRun{
		PassID:      passID,
		ScheduleID:  result.ScheduleID,
		Status:      string(result.Status),
		EmailsFound: result.EmailsFound,
		Downloaded:  result.Downloaded,
		Skipped:     result.Skipped,
		Rejected:    result.Rejected,
	}
	if result.Err != nil {
		msg := result.Err.Error()
		run.Error = &msg
	}

	if err := o.ledger.RecordScheduleRun(run); err != nil {
		o.logger.Warn("failed to record schedule run", "schedule_id", result.ScheduleID, "error", err)
	}
}

// recordArtifact appends a downloaded file to the ledger
func (o *Orchestrator) recordArtifact(messageID, attachmentID, path string, size int64) {
	if o.ledger == nil {
		return
	}

	err := o.ledger.RecordArtifact(&history.Artifact{
		MessageID:    messageID,
		AttachmentID: attachmentID,
		Path:         path,
		Size:         size,
		DownloadedAt: o.now().UTC(),
	})
	if err != nil && !history.IsDuplicate(err) {
		o.logger.Warn("failed to record artifact", "message_id", messageID, "error", err)
	}
}
