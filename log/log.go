package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	logMu    sync.Mutex
	logReady bool
	pid      int
	dir      string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	// Priority 2: EARSHOT_LOG_PATH environment variable
	envPath := os.Getenv("EARSHOT_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// SessionMetrics summarizes one capture session for the diagnostics log.
type SessionMetrics struct {
	SourceName      string
	DurationS       float64
	FramesProcessed uint64
	ChunksForwarded uint64
	ChunksDropped   uint64
	SentKB          float64
}

func CaptureSession(m SessionMetrics) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("source", m.SourceName).
		Float64("duration_s", m.DurationS).
		Uint64("frames", m.FramesProcessed).
		Uint64("forwarded", m.ChunksForwarded).
		Uint64("dropped", m.ChunksDropped).
		Float64("sent_kb", m.SentKB).
		Msg("capture_session")
}

func BackendState(state string, retries int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("state", state).
		Int("retries", retries).
		Msg("backend_state")
}

func SessionStart(backendURL string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("backend", backendURL).
		Msg("session_start")
}

func SessionEnd(chunks uint64) {
	if !logReady {
		return
	}
	diagLog.Info().
		Uint64("chunks", chunks).
		Msg("session_end")
}
