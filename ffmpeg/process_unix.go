//go:build !windows

package ffmpeg

import (
	"fmt"
	"os/exec"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
)

func configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	// The encoder leads its own group, so the negative id reaches its helpers too.
	if err := syscall.Kill(-pid, syscall.SIGKILL); err == nil {
		return nil
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return fmt.Errorf("process %d: %w", pid, err)
	}
	return p.Kill()
}
