// Package device reads host power and network state from Linux sysfs.
package device

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultRoot is the sysfs mount point.
const DefaultRoot = "/sys"

// Sysfs implements domain.DeviceState.
type Sysfs struct {
	root   string
	logger logrus.FieldLogger
}

// NewSysfs creates a Sysfs reader rooted at root (DefaultRoot when empty).
func NewSysfs(root string, logger logrus.FieldLogger) *Sysfs {
	if root == "" {
		root = DefaultRoot
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sysfs{root: root, logger: logger}
}

// IsBatteryAbove reports whether the battery charge exceeds percent.
// Hosts without a battery, or charging from mains, always pass.
func (s *Sysfs) IsBatteryAbove(percent int) bool {
	supplies, _ := filepath.Glob(filepath.Join(s.root, "class", "power_supply", "*"))
	found := false
	total := 0
	for _, dir := range supplies {
		switch read(dir, "type") {
		case "Mains":
			if read(dir, "online") == "1" {
				return true
			}
		case "Battery":
			n, err := strconv.Atoi(read(dir, "capacity"))
			if err != nil {
				s.logger.WithField("supply", filepath.Base(dir)).Debug("device: unreadable battery capacity")
				continue
			}
			if !found || n > total {
				total = n
			}
			found = true
		}
	}
	if !found {
		return true
	}
	return total > percent
}

// IsOnWifi reports whether a wireless interface is up.
func (s *Sysfs) IsOnWifi() bool {
	ifaces, _ := filepath.Glob(filepath.Join(s.root, "class", "net", "*"))
	for _, dir := range ifaces {
		if _, err := os.Stat(filepath.Join(dir, "wireless")); err != nil {
			continue
		}
		if read(dir, "operstate") == "up" {
			return true
		}
	}
	return false
}

func read(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
