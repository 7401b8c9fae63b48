package helper

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/browserbridge/bridge/internal/config"
)

// pollWindow is how long a follower waits for a leader's spawned
// daemon to open its socket before giving up and falling to direct
// mode (spec §4.4 step 2).
const pollWindow = 5 * time.Second

// ensureDaemon implements the startup algorithm's steps 2-3: acquire
// an exclusive-create lock file next to the socket so only one of
// several simultaneously-starting helpers spawns the daemon (spec §9
// "mutual exclusion for daemon spawn" — never an in-process lock, the
// competitors are different processes), then self-spawn via a detached
// re-exec of the current binary with the `daemon` subcommand.
func ensureDaemon(cfg *config.Config) error {
	lockFile, acquired, err := tryAcquireLock(cfg.LockPath())
	if err != nil {
		return fmt.Errorf("helper: lock file: %w", err)
	}

	if !acquired {
		// Someone else is already spawning; poll for the socket instead.
		return pollForSocket(cfg, pollWindow)
	}
	defer func() {
		lockFile.Close()
		os.Remove(cfg.LockPath())
	}()

	if err := spawnDaemon(); err != nil {
		return fmt.Errorf("helper: spawn daemon: %w", err)
	}
	return pollForSocket(cfg, pollWindow)
}

// tryAcquireLock performs an O_EXCL create: exactly one competing
// process observes success.
func tryAcquireLock(path string) (*os.File, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f, true, nil
}

func pollForSocket(cfg *config.Config, window time.Duration) error {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if daemonDialable(cfg) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon socket did not appear within %s", window)
}

// spawnDaemon re-execs the current binary with the hidden `daemon`
// subcommand (the CLI has no `--daemon` flag), detached from this
// process's session so it outlives the helper that spawned it.
func spawnDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command(exe, "daemon")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
