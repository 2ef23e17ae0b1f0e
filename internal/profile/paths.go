package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.fitlobby.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fitlobby")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// DBPath returns the local db path (resume record + lobby history).
func DBPath(name string) string {
	return filepath.Join(Dir(name), "fitlobby.db")
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// LogPath returns the log file path for a profile.
func LogPath(name string) string {
	return filepath.Join(Dir(name), "logs", "fitlobby.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		filepath.Join(Dir(name), "logs"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
