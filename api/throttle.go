package api

import (
	"fmt"
	"time"

	"convertd/config"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const cpuSampleWindow = 500 * time.Millisecond

// resourceChecker verifies that the host has enough idle CPU, free memory
// and free disk under dir to start another encode. Metrics that cannot be
// read are skipped.
func resourceChecker(cfg *config.Config) func(dir string) error {
	return func(dir string) error {
		p, err := cpu.Percent(cpuSampleWindow, false)
		if err == nil && len(p) > 0 && p[0] > (100.0-cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], cfg.ThrottleCPU)
		}

		vm, err := mem.VirtualMemory()
		if err == nil && vm.Available < uint64(cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, cfg.ThrottleFreeMem)
		}

		d, err := disk.Usage(dir)
		if err == nil && d.Free < uint64(cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, cfg.ThrottleFreeDisk)
		}
		return nil
	}
}
