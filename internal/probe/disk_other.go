//go:build !linux

package probe

import "errors"

func statDisk(string) (UsageMetrics, error) {
	return UsageMetrics{}, errors.New("disk usage is only supported on linux")
}
