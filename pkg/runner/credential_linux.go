package runner

import (
	"fmt"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
)

// ApplyUser makes c run as username with its primary group
func ApplyUser(c *exec.Cmd, username string) error {
	uid, gid, err := LookupIDs(username)
	if err != nil {
		return err
	}
	c.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: uid, Gid: gid},
	}
	return nil
}

// LookupIDs resolves a user name to its uid and primary gid
func LookupIDs(username string) (uint32, uint32, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to look up user %s: %w", username, err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid uid %q for %s: %w", u.Uid, username, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid gid %q for %s: %w", u.Gid, username, err)
	}
	return uint32(uid), uint32(gid), nil
}
