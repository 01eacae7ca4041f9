// Package health contains internal helpers for peer liveness checks.
package health

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessAlive reports whether pid refers to a running process. Zero means
// "no peer recorded yet" and counts as alive. Lookup errors also count as
// alive so a flaky probe never tears down a healthy transfer.
func ProcessAlive(pid uint32) bool {
	if pid == 0 || int(pid) == os.Getpid() {
		return true
	}
	ok, err := process.PidExists(int32(pid))
	if err != nil {
		return true
	}
	return ok
}
