package session

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken is returned when no token has been stored for the profile.
	ErrNoToken = errors.New("no token stored, run login first")
	// ErrTokenExpired is returned when the stored token is past its expiry.
	ErrTokenExpired = errors.New("stored token is expired, run login again")
)

// TokenSource supplies the bearer token and the authenticated user identity.
// The chat and notification cores receive it by injection; nothing reads
// ambient storage directly.
type TokenSource interface {
	Token() (string, error)
	UserID() string
	UserName() string
}

// identityClaims is the subset of platform JWT claims we care about.
type identityClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// FileTokenSource reads the bearer token from the profile's token file and
// caches the parsed identity. The token signature is not verified here; the
// backend owns verification, the client only inspects subject and expiry.
type FileTokenSource struct {
	mu      sync.Mutex
	path    string
	token   string
	userID  string
	name    string
	expires time.Time
}

// NewFileTokenSource creates a token source for the given profile.
func NewFileTokenSource(profile string) *FileTokenSource {
	return &FileTokenSource{path: TokenPath(profile)}
}

// Token returns the stored bearer token, reloading from disk if needed.
func (s *FileTokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		if err := s.load(); err != nil {
			return "", err
		}
	}
	if !s.expires.IsZero() && time.Now().After(s.expires) {
		return "", ErrTokenExpired
	}
	return s.token, nil
}

// UserID returns the authenticated user's id, or empty if unknown.
func (s *FileTokenSource) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		_ = s.load()
	}
	return s.userID
}

// UserName returns the authenticated user's display name, or empty if unknown.
func (s *FileTokenSource) UserName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		_ = s.load()
	}
	return s.name
}

// Store writes a new token to the profile's token file and refreshes the
// cached identity.
func (s *FileTokenSource) Store(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return s.parse(token)
}

func (s *FileTokenSource) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoToken
		}
		return fmt.Errorf("read token: %w", err)
	}
	return s.parse(strings.TrimSpace(string(data)))
}

func (s *FileTokenSource) parse(token string) error {
	if token == "" {
		return ErrNoToken
	}
	s.token = token
	s.userID = ""
	s.name = ""
	s.expires = time.Time{}

	claims := &identityClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		// Opaque (non-JWT) tokens are accepted; identity stays unknown.
		return nil
	}
	s.userID = claims.Subject
	s.name = claims.Name
	if claims.ExpiresAt != nil {
		s.expires = claims.ExpiresAt.Time
	}
	return nil
}

// StaticTokenSource is a fixed-identity token source for tests and tooling.
type StaticTokenSource struct {
	TokenValue string
	ID         string
	Name       string
}

func (s *StaticTokenSource) Token() (string, error) { return s.TokenValue, nil }
func (s *StaticTokenSource) UserID() string         { return s.ID }
func (s *StaticTokenSource) UserName() string       { return s.Name }
