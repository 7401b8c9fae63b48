package executor

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// launchedChrome tracks a Chrome process this executor started, so
// Close can tear it down the same way the daemon tears down anything
// else it owns.
var launchedChrome *exec.Cmd

// ensureBrowserReady mirrors the teacher's Chrome-launch bootstrapping:
// if a debug port is already open, use it; otherwise find a local
// Chrome/Chromium binary and launch it headless with remote debugging,
// polling until the port answers.
func ensureBrowserReady(profilePath string, port int, log zerolog.Logger) bool {
	if isPortOpen("127.0.0.1", port) {
		log.Debug().Int("port", port).Msg("chrome already available with remote debugging")
		return true
	}

	chromePath := findChromeBinary()
	if chromePath == "" {
		log.Warn().Msg("no chrome/chromium binary found on PATH")
		return false
	}

	os.MkdirAll(profilePath, 0o755)

	log.Info().Int("port", port).Str("binary", chromePath).Msg("auto-launching chrome")
	cmd := exec.Command(chromePath,
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--user-data-dir="+profilePath,
		"--no-first-run",
		"--no-default-browser-check",
		"--headless=new",
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		log.Error().Err(err).Msg("failed to launch chrome")
		return false
	}
	launchedChrome = cmd
	go cmd.Wait()

	for i := 0; i < 40; i++ {
		time.Sleep(250 * time.Millisecond)
		if isPortOpen("127.0.0.1", port) {
			log.Info().Int("port", port).Int("pid", cmd.Process.Pid).Msg("chrome ready")
			return true
		}
	}
	log.Warn().Msg("chrome launched but debug port never opened")
	return false
}

// closeLaunchedBrowser terminates a Chrome process this executor
// started, if any.
func closeLaunchedBrowser() {
	cmd := launchedChrome
	if cmd == nil || cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	done := make(chan struct{})
	go func() { cmd.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	launchedChrome = nil
}

func isPortOpen(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func findChromeBinary() string {
	for _, name := range []string{"google-chrome-stable", "google-chrome", "chromium-browser", "chromium"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	if runtime.GOOS == "darwin" {
		for _, p := range []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		} {
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

// defaultProfilePath mirrors the teacher's isolated-profile convention,
// namespaced to this project.
func defaultProfilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "browserbridge", "chrome-profile")
}

// fetchWSEndpoint reads Chrome's /json/version endpoint to get the CDP
// WebSocket debugger URL chromedp.NewRemoteAllocator needs to attach.
func fetchWSEndpoint(port int) string {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/json/version", port))
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return ""
	}
	return info.WebSocketDebuggerURL
}
