//go:build !linux

package runner

import (
	"fmt"
	"os/exec"
	"runtime"
)

// ApplyUser is only available on Linux
func ApplyUser(c *exec.Cmd, username string) error {
	return fmt.Errorf("running as %s is not supported on %s", username, runtime.GOOS)
}

// LookupIDs is only available on Linux
func LookupIDs(username string) (uint32, uint32, error) {
	return 0, 0, fmt.Errorf("user lookup for %s is not supported on %s", username, runtime.GOOS)
}
