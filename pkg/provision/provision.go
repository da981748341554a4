// Package provision creates the directories the scheduler and credential
// daemons need, with the ownership and permissions they insist on.
package provision

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/cuemby/hpc-bootstrap/pkg/log"
	"github.com/cuemby/hpc-bootstrap/pkg/types"
	"github.com/rs/zerolog"
)

// Error reports the directory a provisioning batch failed on
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to provision %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Provisioner applies ProvisionedDirectory sets
type Provisioner struct {
	logger zerolog.Logger
}

// New creates a Provisioner
func New() *Provisioner {
	return &Provisioner{logger: log.WithComponent("provision")}
}

type owner struct {
	uid int
	gid int
}

// Ensure creates every missing directory and then applies owner and mode to
// all of them, existing ones included. The batch is all-or-nothing: on
// failure every directory this call created is removed again.
func (p *Provisioner) Ensure(dirs []types.ProvisionedDirectory) error {
	// Resolve identities first so an unknown account fails before any mkdir
	owners := make([]owner, len(dirs))
	for i, d := range dirs {
		o, err := lookupOwner(d.Owner, d.Group)
		if err != nil {
			return &Error{Path: d.Path, Err: err}
		}
		owners[i] = o
	}

	var created []string
	for i, d := range dirs {
		top, err := ensureDir(d.Path)
		if top != "" {
			created = append(created, top)
		}
		var target string
		if err == nil {
			target, err = filepath.EvalSymlinks(d.Path)
		}
		if err == nil {
			err = applyOwnership(target, owners[i])
		}
		if err == nil {
			err = os.Chmod(target, d.Mode)
		}
		if err != nil {
			p.rollback(created)
			return &Error{Path: d.Path, Err: err}
		}

		p.logger.Info().
			Str("path", d.Path).
			Str("owner", d.Owner).
			Str("mode", fmt.Sprintf("%#o", d.Mode)).
			Bool("created", top != "").
			Msg("Provisioned directory")
	}
	return nil
}

// Secure applies owner, group and mode to an existing file. A symlink is
// followed, so the file it points to is the one secured.
func (p *Provisioner) Secure(path, owner, group string, mode os.FileMode) error {
	o, err := lookupOwner(owner, group)
	if err != nil {
		return &Error{Path: path, Err: err}
	}
	if err := os.Chown(path, o.uid, o.gid); err != nil {
		return &Error{Path: path, Err: err}
	}
	if err := os.Chmod(path, mode); err != nil {
		return &Error{Path: path, Err: err}
	}

	p.logger.Info().Str("path", path).Str("owner", owner).Str("mode", fmt.Sprintf("%#o", mode)).Msg("Secured file")
	return nil
}

func (p *Provisioner) rollback(created []string) {
	for i := len(created) - 1; i >= 0; i-- {
		if err := os.RemoveAll(created[i]); err != nil {
			p.logger.Warn().Err(err).Str("path", created[i]).Msg("Failed to roll back directory")
			continue
		}
		p.logger.Warn().Str("path", created[i]).Msg("Rolled back directory")
	}
}

// ensureDir creates path if needed and returns the topmost directory it
// had to create, or "" if path already existed.
func ensureDir(path string) (string, error) {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return "", fmt.Errorf("%s exists and is not a directory", path)
		}
		return "", nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	top := path
	for parent := filepath.Dir(top); parent != top; parent = filepath.Dir(top) {
		if _, err := os.Stat(parent); err == nil {
			break
		}
		top = parent
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		// MkdirAll may have created part of the chain
		if _, statErr := os.Stat(top); statErr == nil {
			return top, err
		}
		return "", err
	}
	return top, nil
}

// applyOwnership chowns path and everything below it. Links inside the
// tree are chowned themselves, not followed.
func applyOwnership(path string, o owner) error {
	return filepath.WalkDir(path, func(p string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(p, o.uid, o.gid)
	})
}

func lookupOwner(name, group string) (owner, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return owner{}, fmt.Errorf("failed to look up user %s: %w", name, err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return owner{}, fmt.Errorf("invalid uid %q for %s", u.Uid, name)
	}

	gidStr := u.Gid
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return owner{}, fmt.Errorf("failed to look up group %s: %w", group, err)
		}
		gidStr = g.Gid
	}

	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return owner{}, fmt.Errorf("invalid gid %q for %s", gidStr, name)
	}
	return owner{uid: uid, gid: gid}, nil
}
