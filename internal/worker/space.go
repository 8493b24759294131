package worker

import (
	"fmt"

	"golang.org/x/sys/unix"

	"loom/internal/services"
)

// ensureFreeSpace rejects new remote work while the staging volume sits below
// the configured floor. Tasks already staged keep running.
func (p *Pool) ensureFreeSpace() error {
	floor := p.cfg.Worker.MinFreeSpaceGiB
	if floor <= 0 {
		return nil
	}
	free, err := freeSpace(p.cfg.Paths.StagingDir)
	if err != nil {
		return services.Wrap(services.ErrTransient, "worker", "check free space", p.cfg.Paths.StagingDir, err)
	}
	need := uint64(floor) << 30
	if free < need {
		return services.Wrap(services.ErrTransient, "worker", "check free space",
			fmt.Sprintf("%.1f GiB free on staging volume, need %d GiB", float64(free)/(1<<30), floor), nil)
	}
	return nil
}

// freeSpace returns the bytes available to unprivileged writers on the
// filesystem holding path.
func freeSpace(path string) (uint64, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return 0, err
	}
	return fs.Bavail * uint64(fs.Bsize), nil
}
