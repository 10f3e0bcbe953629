package schedule

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
)

// Test Fixtures and Helpers

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := NewStore(Config{
		Path:        filepath.Join(dir, "tasks.json"),
		LockTimeout: 5 * time.Second,
	}, logger)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}

	return store
}

func makeTestInput() CreateInput {
	return CreateInput{
		SenderEmail:     "payroll@co.example",
		SubjectKeywords: "payslip",
		Cron:            "0 9 11 * *",
		Description:     "Monthly payslip",
	}
}

func TestCreateAndGet_RoundTrip(t *testing.T) {
	store := newTestStore(t)

	in := makeTestInput()
	created, err := store.Create(in)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if created.ID == "" {
		t.Error("expected a generated id")
	}
	if created.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
	if !created.Enabled {
		t.Error("expected schedule enabled by default")
	}
	if created.LastRun != nil {
		t.Error("expected last_run nil on creation")
	}

	got, err := store.Get(created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got.SenderEmail != in.SenderEmail {
		t.Errorf("sender_email = %q, want %q", got.SenderEmail, in.SenderEmail)
	}
	if got.SubjectKeywords != in.SubjectKeywords {
		t.Errorf("subject_keywords = %q, want %q", got.SubjectKeywords, in.SubjectKeywords)
	}
	if got.Cron != in.Cron {
		t.Errorf("schedule = %q, want %q", got.Cron, in.Cron)
	}
	if got.Description != in.Description {
		t.Errorf("description = %q, want %q", got.Description, in.Description)
	}
}

func TestCreate_DefaultDescription(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create(CreateInput{
		SenderEmail: "hr@co.example",
		Cron:        "0 9 * * *",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if !strings.Contains(created.Description, "hr@co.example") {
		t.Errorf("expected default description to mention the sender, got %q", created.Description)
	}
}

func TestCreate_EmailValidation(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		email   string
		wantErr bool
	}{
		{"payroll@co.example", false},
		{"first.last@sub.domain.example", false},
		{"", true},
		{"no-at-sign", true},
		{"@co.example", true},
		{"payroll@", true},
		{"payroll@nodot", true},
		{"pay roll@co.example", true},
		{"payroll@.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			_, err := store.Create(CreateInput{SenderEmail: tt.email, Cron: "0 9 * * *"})
			if tt.wantErr {
				if !IsValidation(err) {
					t.Errorf("Create(%q) = %v, want ValidationError", tt.email, err)
				}
			} else if err != nil {
				t.Errorf("Create(%q) unexpected error: %v", tt.email, err)
			}
		})
	}
}

func TestCreate_CronValidation(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create(CreateInput{SenderEmail: "a@b.example", Cron: "61 9 * * *"})
	if !IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	var ve *ValidationError
	if !asValidation(err, &ve) || ve.Field != "schedule" {
		t.Errorf("expected offending field 'schedule', got %+v", ve)
	}
}

func asValidation(err error, target **ValidationError) bool {
	ve, ok := err.(*ValidationError)
	if !ok {
		return false
	}
	*target = ve
	return true
}

func TestList_OrderAndFilter(t *testing.T) {
	store := newTestStore(t)

	first, err := store.Create(CreateInput{SenderEmail: "a@co.example", Cron: "0 9 * * *"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.Create(CreateInput{SenderEmail: "b@co.example", Cron: "0 9 * * *", Disabled: true})
	if err != nil {
		t.Fatal(err)
	}

	all, err := store.List(Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	if all[0].ID != first.ID || all[1].ID != second.ID {
		t.Error("expected records ordered by creation time")
	}

	enabled, err := store.List(Filter{EnabledOnly: true})
	if err != nil {
		t.Fatalf("List(enabled) failed: %v", err)
	}
	if len(enabled) != 1 || enabled[0].ID != first.ID {
		t.Errorf("expected only the enabled record, got %v", enabled)
	}
}

func TestUpdate_PartialFields(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create(makeTestInput())
	if err != nil {
		t.Fatal(err)
	}

	newCron := "30 8 1 * *"
	cleared := ""
	updated, err := store.Update(created.ID, UpdateInput{
		Cron:            &newCron,
		SubjectKeywords: &cleared,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if updated.Cron != newCron {
		t.Errorf("schedule = %q, want %q", updated.Cron, newCron)
	}
	if updated.SubjectKeywords != "" {
		t.Errorf("expected subject_keywords cleared, got %q", updated.SubjectKeywords)
	}
	// Unchanged fields survive
	if updated.SenderEmail != created.SenderEmail {
		t.Errorf("sender_email changed unexpectedly: %q", updated.SenderEmail)
	}

	got, err := store.Get(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Cron != newCron {
		t.Errorf("Get after Update: schedule = %q, want %q", got.Cron, newCron)
	}
}

func TestUpdate_RejectsInvalidWithoutWriting(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create(makeTestInput())
	if err != nil {
		t.Fatal(err)
	}

	bad := "not-an-email"
	if _, err := store.Update(created.ID, UpdateInput{SenderEmail: &bad}); !IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	got, err := store.Get(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SenderEmail != created.SenderEmail {
		t.Error("rejected update must not modify the stored record")
	}
}

func TestUpdate_NotFound(t *testing.T) {
	store := newTestStore(t)

	enabled := false
	if _, err := store.Update("missing", UpdateInput{Enabled: &enabled}); !IsNotFound(err) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkRun(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create(makeTestInput())
	if err != nil {
		t.Fatal(err)
	}

	ts := time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)
	if err := store.MarkRun(created.ID, ts); err != nil {
		t.Fatalf("MarkRun failed: %v", err)
	}

	got, err := store.Get(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastRun == nil || !got.LastRun.Equal(ts) {
		t.Errorf("last_run = %v, want %v", got.LastRun, ts)
	}
}

func TestSetEnabled(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create(makeTestInput())
	if err != nil {
		t.Fatal(err)
	}

	if err := store.SetEnabled(created.ID, false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}

	got, err := store.Get(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Enabled {
		t.Error("expected schedule disabled")
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create(makeTestInput())
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(created.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := store.Get(created.ID); !IsNotFound(err) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Double delete surfaces NotFound rather than silently succeeding
	if err := store.Delete(created.ID); !IsNotFound(err) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestCounts(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Create(CreateInput{SenderEmail: "a@co.example", Cron: "0 9 * * *"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(CreateInput{SenderEmail: "b@co.example", Cron: "0 9 * * *", Disabled: true}); err != nil {
		t.Fatal(err)
	}

	counts, err := store.Counts()
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts.Total != 2 || counts.Enabled != 1 || counts.Disabled != 1 {
		t.Errorf("counts = %+v, want total=2 enabled=1 disabled=1", counts)
	}
}

func TestPersistenceFormat(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create(makeTestInput())
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("failed to read store file: %v", err)
	}

	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("store file is not valid JSON: %v", err)
	}

	entry, ok := raw[created.ID]
	if !ok {
		t.Fatalf("expected store file keyed by schedule id, keys: %v", keys(raw))
	}

	for _, field := range []string{"sender_email", "subject_keywords", "schedule", "enabled", "created_at", "last_run", "description"} {
		if _, ok := entry[field]; !ok {
			t.Errorf("store file missing field %q", field)
		}
	}

	if string(entry["last_run"]) != "null" {
		t.Errorf("expected null last_run, got %s", entry["last_run"])
	}
}

func keys(m map[string]map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestMutation_LockTimeout(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := NewStore(Config{
		Path:        filepath.Join(dir, "tasks.json"),
		LockTimeout: 100 * time.Millisecond,
	}, logger)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}

	// Hold the store's lock file exclusively; a separate open of the same
	// path conflicts even within one process
	fl := flock.New(store.Path() + ".lock")
	locked, err := fl.TryLock()
	if err != nil || !locked {
		t.Fatalf("failed to take the store lock: locked=%v err=%v", locked, err)
	}
	defer fl.Unlock()

	start := time.Now()
	_, err = store.Create(makeTestInput())
	elapsed := time.Since(start)

	if !IsLockTimeout(err) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	// Bounded wait, not an indefinite hang
	if elapsed > 2*time.Second {
		t.Errorf("lock acquisition waited %v past its 100ms timeout", elapsed)
	}

	// Readers hit the same bound
	if _, err := store.List(Filter{}); !IsLockTimeout(err) {
		t.Errorf("expected ErrLockTimeout from reader, got %v", err)
	}
}

func TestConcurrentMarkRunAndList(t *testing.T) {
	store := newTestStore(t)

	created, err := store.Create(makeTestInput())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 40)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ts := time.Now().UTC().Add(time.Duration(n) * time.Second)
			if err := store.MarkRun(created.ID, ts); err != nil {
				errs <- err
			}
		}(i)

		wg.Add(1)
		go func() {
			defer wg.Done()
			records, err := store.List(Filter{})
			if err != nil {
				errs <- err
				return
			}
			// A concurrent list never observes a half-written record
			if len(records) != 1 || records[0].SenderEmail != "payroll@co.example" {
				errs <- errListCorrupt
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}

	got, err := store.Get(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastRun == nil {
		t.Error("expected last_run set after concurrent MarkRun calls")
	}
}

var errListCorrupt = &ValidationError{Field: "list", Reason: "observed corrupt record"}
