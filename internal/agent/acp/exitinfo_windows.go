//go:build windows

package acp

import "os/exec"

// exitDetails extracts the exit code from a cmd.Wait() error. Windows has no
// signal concept comparable to Unix, so signal is always empty.
func exitDetails(err error) (code int, signal string) {
	if err == nil {
		return 0, ""
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1, ""
	}
	return exitErr.ExitCode(), ""
}

// terminateProcess has no SIGTERM equivalent on Windows; Kill is the closest
// available primitive.
func terminateProcess(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
