// Package pipeline turns a located attachment into a file on disk: fetch,
// validate the content signature, sanitize the name, and place it under a
// year-partitioned download tree with secure permissions.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Status reports what happened to one attachment
type Status string

const (
	// StatusDownloaded means a new file was written
	StatusDownloaded Status = "downloaded"
	// StatusSkipped means an identical file was already present
	StatusSkipped Status = "skipped"
	// StatusRejected means validation refused the content; nothing was written
	StatusRejected Status = "rejected"
)

// Fetcher retrieves attachment bodies. Satisfied by *gmail.Client.
type Fetcher interface {
	FetchAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// Config holds download destination settings
type Config struct {
	// DownloadDir is the root of the year-partitioned download tree
	DownloadDir string `toml:"download_dir"`

	// AllowedTypes lists accepted file extensions without the dot
	AllowedTypes []string `toml:"allowed_types"`
}

// DefaultConfig accepts only PDFs under ./downloads
func DefaultConfig() Config {
	return Config{
		DownloadDir:  "downloads",
		AllowedTypes: []string{"pdf"},
	}
}

// Validate checks the destination and type list are usable
func (c Config) Validate() error {
	if c.DownloadDir == "" {
		return fmt.Errorf("pipeline: download_dir must not be empty")
	}
	if len(c.AllowedTypes) == 0 {
		return fmt.Errorf("pipeline: allowed_types must not be empty")
	}
	return nil
}

// Request identifies one attachment to fetch and store
type Request struct {
	MessageID    string
	AttachmentID string
	Filename     string
	MessageDate  time.Time
	DeclaredSize int64
}

// Result describes the outcome for one attachment
type Result struct {
	Status Status
	Path   string // set when downloaded or skipped
	Size   int64  // bytes on disk, set when downloaded or skipped
	Reason string // set when rejected or skipped
}

// Pipeline fetches attachments and writes them to the download tree
type Pipeline struct {
	fetcher Fetcher
	baseDir string
	allowed map[string]bool
	logger  *slog.Logger
}

// New builds a Pipeline. The fetcher is expected to handle its own
// throttling and retries.
func New(fetcher Fetcher, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		allowed["."+strings.ToLower(strings.TrimPrefix(t, "."))] = true
	}

	return &Pipeline{
		fetcher: fetcher,
		baseDir: cfg.DownloadDir,
		allowed: allowed,
		logger:  logger,
	}, nil
}

// FetchAndStore downloads one attachment and places it at
// <base>/<year-of-message-date>/<sanitized-name>. An existing file of the
// same size is treated as the same attachment and skipped; a size mismatch
// gets a message-id-suffixed name instead of an overwrite. Content whose
// magic bytes contradict the extension is rejected without writing.
func (p *Pipeline) FetchAndStore(ctx context.Context, req Request) (Result, error) {
	ext := strings.ToLower(filepath.Ext(req.Filename))
	if !p.allowed[ext] {
		p.logger.Warn("rejected attachment type",
			"message_id", req.MessageID,
			"filename", req.Filename)
		return Result{Status: StatusRejected, Reason: fmt.Sprintf("file type %q not allowed", ext)}, nil
	}

	name := sanitizeFilename(req.Filename)
	if name == "" || name == ext {
		name = "attachment_" + req.MessageID + ext
	}

	content, err := p.fetcher.FetchAttachment(ctx, req.MessageID, req.AttachmentID)
	if err != nil {
		return Result{}, err
	}

	if !checkSignature(ext, content) {
		p.logger.Warn("rejected attachment content",
			"message_id", req.MessageID,
			"filename", name,
			"reason", "magic bytes do not match extension")
		return Result{Status: StatusRejected, Reason: "content does not match declared type"}, nil
	}

	yearDir := filepath.Join(p.baseDir, fmt.Sprintf("%d", req.MessageDate.Year()))
	if err := os.MkdirAll(yearDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("pipeline: create year directory: %w", err)
	}

	dest := filepath.Join(yearDir, name)
	dest, skip, err := resolveConflict(dest, name, req.MessageID, req.AttachmentID, int64(len(content)))
	if err != nil {
		return Result{}, err
	}
	if skip {
		p.logger.Info("attachment already present",
			"message_id", req.MessageID,
			"path", dest)
		return Result{Status: StatusSkipped, Path: dest, Size: int64(len(content)), Reason: "identical file already present"}, nil
	}

	if err := writeSecure(dest, content); err != nil {
		return Result{}, err
	}

	p.logger.Info("downloaded attachment",
		"message_id", req.MessageID,
		"path", dest,
		"bytes", len(content))

	return Result{Status: StatusDownloaded, Path: dest, Size: int64(len(content))}, nil
}

// resolveConflict decides the final destination when a file already exists
// at the preferred path. Same size means the same attachment; a different
// size means a distinct file that needs a distinguishing name. Existing
// files are never overwritten: if every disambiguated name is taken by
// different content, the operation fails.
func resolveConflict(dest, name, messageID, attachmentID string, size int64) (string, bool, error) {
	dir := filepath.Dir(dest)
	candidates := []string{
		dest,
		filepath.Join(dir, suffixFilename(name, messageID)),
		filepath.Join(dir, suffixFilename(name, messageID+"_"+attachmentID)),
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if os.IsNotExist(err) {
			return candidate, false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("pipeline: stat destination: %w", err)
		}
		if info.Size() == size {
			return candidate, true, nil
		}
	}

	return "", false, fmt.Errorf("pipeline: destination %s taken by different content under every disambiguated name", dest)
}

// writeSecure writes content to a temp file in the destination directory and
// renames it into place, so readers never observe a partial file
func writeSecure(dest string, content []byte) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return fmt.Errorf("pipeline: create temp file: %w", err)
	}

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("pipeline: set file permissions: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("pipeline: write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("pipeline: close file: %w", err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("pipeline: move file into place: %w", err)
	}
	return nil
}
