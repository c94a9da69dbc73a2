// Package systemd shells out to systemctl for hosts where the system D-Bus is not reachable.
package systemd

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// ActiveState returns the unit's ActiveState as printed by "systemctl is-active".
// The command exits non-zero for anything but "active"; the printed state is still
// returned in that case.
func ActiveState(ctx context.Context, unit string) (string, error) {
	out, err := exec.CommandContext(ctx, "systemctl", "is-active", unit).Output()
	state := strings.TrimSpace(string(out))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && state != "" {
			return state, nil
		}
		return "", err
	}
	return state, nil
}
