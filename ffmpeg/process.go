package ffmpeg

import (
	"context"
	"os/exec"

	"github.com/shirou/gopsutil/v3/process"
)

// Command prepares an encoder invocation that never opens a console window
// and runs in its own process group where the platform has one.
func Command(ctx context.Context, bin string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, bin, args...)
	configure(cmd)
	return cmd
}

// Terminate kills the process with the given id together with anything it
// spawned. It needs no handle to the process, only its id.
func Terminate(pid int) error {
	return terminate(pid)
}

// Alive reports whether a process with the given id exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}
