package debug

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu      sync.Mutex
	file    *os.File
	logger  zerolog.Logger
	enabled bool
)

// Enable starts debug logging to ~/.config/neuroseq/debug.log
func Enable() error {
	mu.Lock()
	defer mu.Unlock()

	if enabled {
		return nil
	}

	homeDir, _ := os.UserHomeDir()
	dir := homeDir + "/.config/neuroseq"
	os.MkdirAll(dir, 0755)

	f, err := os.OpenFile(dir+"/debug.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	file = f
	logger = zerolog.New(f).With().Timestamp().Logger()
	enabled = true

	logger.Info().Str("category", "debug").Msg("debug logging started")
	return nil
}

// Disable stops debug logging
func Disable() {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		file.Close()
		file = nil
	}
	enabled = false
}

// Logger returns the active debug logger, or a disabled one when
// logging is off. Safe to call from any goroutine.
func Logger() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if !enabled {
		return zerolog.Nop()
	}
	return logger
}

// Log writes a message to the debug log
func Log(category, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()

	if !enabled {
		return
	}
	logger.Debug().Str("category", category).Msg(fmt.Sprintf(format, args...))
}

// LogEvery logs only every N calls (use for high-frequency events)
var counters = make(map[string]int)

func LogEvery(n int, category, format string, args ...any) {
	mu.Lock()
	key := category + format
	counters[key]++
	count := counters[key]
	mu.Unlock()

	if count%n == 0 {
		Log(category, format, args...)
	}
}
