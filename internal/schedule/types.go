package schedule

import "time"

// Record represents a persisted retrieval schedule: a cron recurrence paired
// with the search criteria used to find matching messages.
type Record struct {
	ID              string
	SenderEmail     string
	SubjectKeywords string // optional, empty means no subject filter
	Cron            string
	Enabled         bool
	CreatedAt       time.Time
	LastRun         *time.Time // nil until the first completed pass
	Description     string
}

// CreateInput holds the caller-supplied fields for a new schedule.
// Every recognized field is listed here; anything else is rejected by the type system.
type CreateInput struct {
	SenderEmail     string
	SubjectKeywords string
	Cron            string
	Description     string
	Disabled        bool
}

// UpdateInput holds a partial update. Nil fields are left unchanged.
// SubjectKeywords and Description accept the empty string to clear the field.
type UpdateInput struct {
	SenderEmail     *string
	SubjectKeywords *string
	Cron            *string
	Description     *string
	Enabled         *bool
}

// Filter narrows List results
type Filter struct {
	EnabledOnly bool
}

// Counts summarizes the store contents
type Counts struct {
	Total    int
	Enabled  int
	Disabled int
}

// storedRecord is the on-disk representation of a Record. The schedule id is
// the enclosing map key, not a field.
type storedRecord struct {
	SenderEmail     string     `json:"sender_email"`
	SubjectKeywords *string    `json:"subject_keywords"`
	Cron            string     `json:"schedule"`
	Enabled         bool       `json:"enabled"`
	CreatedAt       time.Time  `json:"created_at"`
	LastRun         *time.Time `json:"last_run"`
	Description     *string    `json:"description"`
}

func (r *Record) toStored() storedRecord {
	s := storedRecord{
		SenderEmail: r.SenderEmail,
		Cron:        r.Cron,
		Enabled:     r.Enabled,
		CreatedAt:   r.CreatedAt,
		LastRun:     r.LastRun,
	}
	if r.SubjectKeywords != "" {
		s.SubjectKeywords = &r.SubjectKeywords
	}
	if r.Description != "" {
		s.Description = &r.Description
	}
	return s
}

func fromStored(id string, s storedRecord) Record {
	r := Record{
		ID:          id,
		SenderEmail: s.SenderEmail,
		Cron:        s.Cron,
		Enabled:     s.Enabled,
		CreatedAt:   s.CreatedAt,
		LastRun:     s.LastRun,
	}
	if s.SubjectKeywords != nil {
		r.SubjectKeywords = *s.SubjectKeywords
	}
	if s.Description != nil {
		r.Description = *s.Description
	}
	return r
}
