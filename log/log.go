// Package log owns the two on-disk logs: a structured diagnostics log and a
// plain-text detections log for suspicious-fragment audit trails.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog    zerolog.Logger
	diagFile   *os.File
	detectFile *os.File
	logMu      sync.Mutex
	logReady   bool
	pid        int
	dir        string
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

	// Priority 2: CALLGUARD_LOG_PATH environment variable
	envPath := os.Getenv("CALLGUARD_LOG_PATH")
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

	detectPath := filepath.Join(dir, "detections_log.txt")
	detectFile, err = os.OpenFile(detectPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
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
	if detectFile != nil {
		detectFile.Close()
		detectFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
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

// Detection appends one line per suspicious fragment to detections_log.txt.
func Detection(confidence float64, reasons []string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%.2f\t%s\n",
		time.Now().Format("2006-01-02 15:04:05"), pid, confidence, strings.Join(reasons, "; "))
	detectFile.WriteString(line)
}

func SessionStart(runID, endpoint, mode string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("run_id", runID).
		Str("endpoint", endpoint).
		Str("mode", mode).
		Msg("session_start")
}

func SessionEnd(runID string, fragments, detections int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("run_id", runID).
		Int("fragments", fragments).
		Int("detections", detections).
		Msg("session_end")
}

type CaptureStatsData struct {
	Cycles  int
	Sent    int
	SentKB  float64
	Dropped int
	Skipped int
	AudioS  float64
	TotalMs float64
}

func CaptureStats(m CaptureStatsData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("cycles", m.Cycles).
		Int("sent", m.Sent).
		Float64("sent_kb", m.SentKB).
		Int("dropped", m.Dropped).
		Int("skipped", m.Skipped).
		Float64("audio_s", m.AudioS).
		Float64("total_ms", m.TotalMs).
		Msg("capture_loop")
}

type ReconnectData struct {
	Attempt int
	DelayMs float64
}

func Reconnect(m ReconnectData) {
	if !logReady {
		return
	}
	diagLog.Warn().
		Int("attempt", m.Attempt).
		Float64("delay_ms", m.DelayMs).
		Msg("channel_reconnect")
}
