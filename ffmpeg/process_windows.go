//go:build windows

package ffmpeg

import (
	"fmt"
	"os/exec"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
)

const (
	createNoWindow           = 0x08000000
	belowNormalPriorityClass = 0x00004000
)

func configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: createNoWindow | belowNormalPriorityClass,
	}
}

func terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return fmt.Errorf("process %d: %w", pid, err)
	}
	return killTree(p)
}

// killTree kills children first so none are reparented while the parent dies.
func killTree(p *process.Process) error {
	if children, err := p.Children(); err == nil {
		for _, c := range children {
			_ = killTree(c)
		}
	}
	return p.Kill()
}
