// Package envload loads a .env file so ARTBOT_* settings can live next to a
// protocol checkout instead of the shell profile.
package envload

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Environment variables read by the CLI.
const (
	ConfigVar   = "ARTBOT_CONFIG"
	LogLevelVar = "ARTBOT_LOG_LEVEL"
	JournalVar  = "ARTBOT_JOURNAL"
)

var (
	loadOnce   sync.Once
	loadedPath string
	loadErr    error
)

// Ensure loads the first .env file found from the current working directory up
// to the filesystem root. Variables already set in the environment win.
// Subsequent calls are no-ops.
func Ensure() error {
	loadOnce.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			loadErr = err
			return
		}
		loadedPath, loadErr = loadFrom(wd)
	})
	return loadErr
}

// LoadedPath returns the resolved .env path if one was loaded, otherwise "".
func LoadedPath() string {
	return loadedPath
}

// Lookup returns the trimmed value of key, or fallback when unset or blank.
func Lookup(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func loadFrom(dir string) (string, error) {
	path, err := findDotEnv(dir)
	if err != nil {
		log.Debug().Err(err).Msg("artbot: search .env failed")
		return "", err
	}
	if path == "" {
		return "", nil
	}
	if err := godotenv.Load(path); err != nil {
		log.Warn().Err(err).Str("dotenv", path).Msg("artbot: load .env failed")
		return "", err
	}
	log.Debug().Str("dotenv", path).Msg("artbot: loaded .env")
	return path, nil
}

func findDotEnv(dir string) (string, error) {
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
