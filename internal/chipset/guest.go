package chipset

import (
	"fmt"
	"log/slog"
)

// LogGuestError records a guest-visible protocol error (bad access size,
// unknown register, write to a read-only register). Guest errors never fail
// the access; callers resolve them by returning zero or dropping the write.
func LogGuestError(device string, msg string, args ...any) {
	slog.Warn(fmt.Sprintf("%s: %s", device, msg),
		slog.Group("guest_error", args...),
	)
}
