package keyValStore

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

func (c StoreConfig) checkConfig() error {
	if len(c.Paths) == 0 {
		return fmt.Errorf("no storage path configured")
	}

	for _, path := range c.Paths {
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("storage path %s is not usable: %w", path, err)
		}

		usage, err := disk.Usage(path)
		if err != nil {
			return fmt.Errorf("unable to read disk usage for %s: %w", path, err)
		}

		freeGB := usage.Free / (1024 * 1024 * 1024)
		if freeGB < uint64(c.MinimumFreeSpace) {
			return fmt.Errorf("not enough free space on %s: %d GB free, %d GB required",
				path, freeGB, c.MinimumFreeSpace)
		}
	}

	return nil
}

// displayDiskUsage logs the disk usage of every configured path.
func displayDiskUsage(paths []string) error {
	for _, path := range paths {
		usage, err := disk.Usage(path)
		if err != nil {
			log.WithFields(logrus.Fields{
				"path": path,
			}).Errorf("Error retrieving disk usage stats: %v", err)
			return err
		}

		log.WithFields(logrus.Fields{
			"path":         path,
			"total_gb":     usage.Total / (1024 * 1024 * 1024),
			"free_gb":      usage.Free / (1024 * 1024 * 1024),
			"used_percent": fmt.Sprintf("%.1f", usage.UsedPercent),
		}).Info("Disk usage for storage path")
	}

	return nil
}
