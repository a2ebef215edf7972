package shared

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/charmbracelet/log"
)

var getRuntime = func() string { return runtime.GOOS }

var startCommand = func(cmd *exec.Cmd) error { return cmd.Start() }

// OpenBrowser opens the default system browser to the specified URL.
//
// Supports macOS, Linux, and Windows platforms.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	rt := getRuntime()
	switch rt {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", rt)
	}

	if err := startCommand(cmd); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}

	return nil
}

// SystemOpener hands URLs that must leave the kiosk to the system browser.
//
// Open is fire-and-forget: failures are logged.
type SystemOpener struct {
	logger *log.Logger
}

func NewSystemOpener(logger *log.Logger) *SystemOpener {
	if logger == nil {
		logger = NewLogger(nil)
	}
	return &SystemOpener{logger: logger}
}

func (o *SystemOpener) Open(url string) {
	if err := OpenBrowser(url); err != nil {
		o.logger.Warn("external open failed", "url", url, "error", err)
		return
	}
	o.logger.Debug("opened externally", "url", url)
}
