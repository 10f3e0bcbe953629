package history

import (
	"testing"
	"time"
)

// openTestDB creates an in-memory ledger with the schema applied
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestPassLifecycle(t *testing.T) {
	db := openTestDB(t)

	started := time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)
	if err := db.BeginPass("pass-1", started); err != nil {
		t.Fatalf("BeginPass failed: %v", err)
	}

	pass, err := db.GetPass("pass-1")
	if err != nil {
		t.Fatalf("GetPass failed: %v", err)
	}
	if pass.FinishedAt != nil {
		t.Error("expected unfinished pass to have nil finished_at")
	}

	finished := started.Add(2 * time.Minute)
	if err := db.FinishPass("pass-1", finished, 3, 1); err != nil {
		t.Fatalf("FinishPass failed: %v", err)
	}

	pass, err = db.GetPass("pass-1")
	if err != nil {
		t.Fatal(err)
	}
	if pass.FinishedAt == nil || !pass.FinishedAt.Equal(finished) {
		t.Errorf("finished_at = %v, want %v", pass.FinishedAt, finished)
	}
	if pass.SchedulesProcessed != 3 || pass.SchedulesFailed != 1 {
		t.Errorf("totals = %d/%d, want 3/1", pass.SchedulesProcessed, pass.SchedulesFailed)
	}
}

func TestFinishPass_NotFound(t *testing.T) {
	db := openTestDB(t)

	err := db.FinishPass("missing", time.Now(), 0, 0)
	if !IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetPass_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetPass("missing")
	if !IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecentPasses_NewestFirst(t *testing.T) {
	db := openTestDB(t)

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"pass-a", "pass-b", "pass-c"} {
		if err := db.BeginPass(id, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	passes, err := db.RecentPasses(2)
	if err != nil {
		t.Fatalf("RecentPasses failed: %v", err)
	}

	if len(passes) != 2 {
		t.Fatalf("expected 2 passes, got %d", len(passes))
	}
	if passes[0].ID != "pass-c" || passes[1].ID != "pass-b" {
		t.Errorf("unexpected order: %s, %s", passes[0].ID, passes[1].ID)
	}
}

func TestRecentPasses_EmptyLedger(t *testing.T) {
	db := openTestDB(t)

	passes, err := db.RecentPasses(10)
	if err != nil {
		t.Fatalf("RecentPasses failed: %v", err)
	}
	if passes == nil {
		t.Error("expected empty slice, got nil")
	}
	if len(passes) != 0 {
		t.Errorf("expected no passes, got %d", len(passes))
	}
}

func TestScheduleRuns(t *testing.T) {
	db := openTestDB(t)

	if err := db.BeginPass("pass-1", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	errMsg := "provider unavailable"
	runs := []ScheduleRun{
		{PassID: "pass-1", ScheduleID: "sched-1", Status: "processed", EmailsFound: 2, Downloaded: 2},
		{PassID: "pass-1", ScheduleID: "sched-2", Status: "error", Error: &errMsg},
	}
	for i := range runs {
		if err := db.RecordScheduleRun(&runs[i]); err != nil {
			t.Fatalf("RecordScheduleRun failed: %v", err)
		}
	}

	got, err := db.GetScheduleRuns("pass-1")
	if err != nil {
		t.Fatalf("GetScheduleRuns failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(got))
	}
	if got[0].ScheduleID != "sched-1" || got[0].Downloaded != 2 {
		t.Errorf("unexpected first run: %+v", got[0])
	}
	if got[1].Status != "error" || got[1].Error == nil || *got[1].Error != errMsg {
		t.Errorf("unexpected second run: %+v", got[1])
	}
}

func TestRecordArtifact_DuplicateDetection(t *testing.T) {
	db := openTestDB(t)

	artifact := &Artifact{
		MessageID:    "msg-1",
		AttachmentID: "att-1",
		Path:         "/downloads/2025/payslip.pdf",
		Size:         1024,
		DownloadedAt: time.Now().UTC(),
	}

	if err := db.RecordArtifact(artifact); err != nil {
		t.Fatalf("RecordArtifact failed: %v", err)
	}

	err := db.RecordArtifact(artifact)
	if !IsDuplicate(err) {
		t.Errorf("expected ErrDuplicate on re-record, got %v", err)
	}

	got, err := db.GetArtifact("msg-1", "att-1")
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if got.Path != artifact.Path || got.Size != artifact.Size {
		t.Errorf("unexpected artifact: %+v", got)
	}
}

func TestGetArtifact_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.GetArtifact("msg-x", "att-x")
	if !IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)

	wantErr := ErrDuplicate
	err := db.WithTransaction(func(tx *Tx) error {
		if _, err := tx.Exec(`INSERT INTO passes (pass_id, started_at) VALUES (?, ?)`, "pass-1", time.Now()); err != nil {
			return err
		}
		return wantErr
	})

	if err != wantErr {
		t.Fatalf("expected the function error back, got %v", err)
	}

	if _, err := db.GetPass("pass-1"); !IsNotFound(err) {
		t.Errorf("expected rollback to discard the insert, got %v", err)
	}
}
