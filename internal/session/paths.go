package session

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var profileNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateName rejects profile names that would escape the profiles
// directory or produce awkward paths.
func ValidateName(profile string) error {
	if !profileNameRe.MatchString(profile) {
		return fmt.Errorf("invalid profile name %q: use letters, digits, - and _", profile)
	}
	return nil
}

// BaseDir returns ~/.mutamir.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mutamir")
}

// Dir returns the profile-specific directory.
func Dir(profile string) string {
	return filepath.Join(BaseDir(), "profiles", profile)
}

// TokenPath returns the stored bearer token path for a profile.
func TokenPath(profile string) string {
	return filepath.Join(Dir(profile), "token")
}

// LockPath returns the agent lock file path for a profile.
func LockPath(profile string) string {
	return filepath.Join(Dir(profile), "LOCK")
}

// CacheDBPath returns the local cache database path for a profile.
func CacheDBPath(profile string) string {
	return filepath.Join(Dir(profile), "cache.db")
}

// LogDir returns the log directory for a profile.
func LogDir(profile string) string {
	return filepath.Join(Dir(profile), "logs")
}

// LogPath returns the log file path for the given process name.
func LogPath(profile, process string) string {
	return filepath.Join(LogDir(profile), process+".log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(profile string) error {
	dirs := []string{
		Dir(profile),
		LogDir(profile),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
