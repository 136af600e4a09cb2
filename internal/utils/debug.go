package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/castpull/castpull/internal/config"
)

var (
	debugOnce    sync.Once
	debugFile    *os.File
	debugMu      sync.Mutex
	debugEnabled bool
)

func init() {
	if os.Getenv("CASTPULL_DEBUG") == "1" {
		debugEnabled = true
	}
}

// SetDebug enables or disables the debug log at runtime (settings flag).
func SetDebug(enabled bool) {
	debugMu.Lock()
	debugEnabled = enabled
	debugMu.Unlock()
}

// Debug appends a timestamped line to the debug log file under the logs
// directory. The file is opened once per process. Logging failures are
// silently ignored so they can never affect a transfer.
func Debug(format string, args ...any) {
	debugMu.Lock()
	enabled := debugEnabled
	debugMu.Unlock()
	if !enabled {
		return
	}

	debugOnce.Do(func() {
		if err := os.MkdirAll(config.GetLogsDir(), 0755); err != nil {
			return
		}
		name := fmt.Sprintf("debug-%s.log", time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(config.GetLogsDir(), name),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return
		}
		debugFile = f
	})

	debugMu.Lock()
	defer debugMu.Unlock()
	if debugFile == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(debugFile, "[%s] %s\n", time.Now().Format("15:04:05.000"), msg)
}
