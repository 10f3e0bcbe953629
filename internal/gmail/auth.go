package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Config holds OAuth credential locations
type Config struct {
	// CredentialsPath points at the OAuth client secret file from the
	// Google Cloud console
	CredentialsPath string `toml:"credentials_path"`

	// TokenPath points at the cached user token. Refreshed tokens are
	// written back here.
	TokenPath string `toml:"token_path"`
}

// DefaultConfig returns the conventional credential layout
func DefaultConfig() Config {
	return Config{
		CredentialsPath: "credentials.json",
		TokenPath:       "token.json",
	}
}

// Validate checks both paths are set
func (c Config) Validate() error {
	if c.CredentialsPath == "" {
		return fmt.Errorf("gmail: credentials_path must not be empty")
	}
	if c.TokenPath == "" {
		return fmt.Errorf("gmail: token_path must not be empty")
	}
	return nil
}

// notifyTokenSource wraps a token source and persists refreshed tokens so
// the next process start does not need another refresh round trip
type notifyTokenSource struct {
	src    oauth2.TokenSource
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	current *oauth2.Token
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := saveToken(s.path, t); err != nil {
			// A failed save costs one refresh next start, nothing more
			s.logger.Warn("failed to persist refreshed token", "path", s.path, "error", err)
		}
	}
	return t, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, fmt.Errorf("gmail: decode token file %s: %w", path, err)
	}
	return token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// NewService builds an authenticated read-only Gmail service from the
// configured credential files
func NewService(ctx context.Context, cfg Config, logger *slog.Logger) (*gmailapi.Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	secret, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("gmail: read credentials file: %w", err)
	}

	oauthCfg, err := google.ConfigFromJSON(secret, gmailapi.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("gmail: parse credentials file: %w", err)
	}

	token, err := loadToken(cfg.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("gmail: load token file (run the auth flow first): %w", err)
	}

	source := &notifyTokenSource{
		src:     oauthCfg.TokenSource(ctx, token),
		path:    cfg.TokenPath,
		logger:  logger,
		current: token,
	}

	client := oauth2.NewClient(ctx, source)
	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("gmail: create service: %w", err)
	}

	return svc, nil
}
