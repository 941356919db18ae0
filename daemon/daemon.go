package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"smartflow-perp/internal/utils"
)

// EnvVar marks the re-executed background process
const EnvVar = "SMARTFLOW_DAEMON"

var controlFlags = map[string]bool{
	"start-daemon":   true,
	"stop-daemon":    true,
	"restart-daemon": true,
}

// IsDaemon checks if the process is running as a daemon/background process
func IsDaemon() bool {
	return os.Getenv(EnvVar) == "true"
}

// ChildArgs drops the daemon control flags so the child runs the bot
// instead of spawning again
func ChildArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		name := strings.TrimLeft(a, "-")
		if i := strings.IndexByte(name, '='); i >= 0 {
			name = name[:i]
		}
		if strings.HasPrefix(a, "-") && controlFlags[name] {
			continue
		}
		out = append(out, a)
	}
	return out
}

// StartDaemon starts the application as a background process
func StartDaemon(args []string, pidFile string) error {
	execPath, err := GetExecutablePath()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := exec.Command(execPath, ChildArgs(args)...)
	cmd.Env = append(os.Environ(), EnvVar+"=true")
	// output goes to the rotating log file, not the terminal
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	if err := utils.WriteFileAtomic(pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	fmt.Printf("Daemon started with PID: %d. PID file saved as %s\n", cmd.Process.Pid, pidFile)
	return nil
}

// ReadPID parses the PID file
func ReadPID(pidFile string) (int, error) {
	pidData, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("failed to parse PID %q", strings.TrimSpace(string(pidData)))
	}
	return pid, nil
}

// StopDaemon asks the background process to shut down gracefully
func StopDaemon(pidFile string) error {
	pid, err := ReadPID(pidFile)
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	// SIGTERM lets an in-flight cycle finish; Kill where signals are unsupported
	if err := process.Signal(syscall.SIGTERM); err != nil {
		if kerr := process.Kill(); kerr != nil {
			return fmt.Errorf("failed to stop process %d: %w", pid, err)
		}
	}

	if err := os.Remove(pidFile); err != nil {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	fmt.Printf("Daemon with PID %d has been stopped.\n", pid)
	return nil
}

// RestartDaemon restarts the daemon process
func RestartDaemon(args []string, pidFile string) error {
	if err := StopDaemon(pidFile); err != nil {
		fmt.Printf("Warning: Could not stop daemon: %v\n", err)
		// Continue trying to start anyway
	}

	return StartDaemon(args, pidFile)
}

// GetExecutablePath returns the current executable path
func GetExecutablePath() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Abs(execPath)
}
