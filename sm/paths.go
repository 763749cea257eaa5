// File: sm/paths.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Filesystem layout for the SM plugin (spec.md §6):
//
//	sockets:  <tmpdir>/<prefix>_<user>/<pid>/<instance>/sock
//	fifos:    <tmpdir>/<prefix>_<user>/<pid>/<instance>/fifo-<conn>-{s,r}
//	shm:      <prefix>_<user>-<pid>-<instance>            (copy arena)
//	          <prefix>_<user>-<pid>-<instance>-<conn>-{s,r} (ring buffers)

package sm

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/momentics/na-sm/control"
)

func currentUser() string {
	u, err := user.Current()
	if err != nil || u.Username == "" {
		return fmt.Sprintf("uid%d", os.Getuid())
	}
	return sanitize(u.Username)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}

func instanceDir(cfg control.SMConfig, pid, instance int) string {
	return filepath.Join(cfg.TmpDir, fmt.Sprintf("%s_%s", cfg.PathPrefix, currentUser()), fmt.Sprint(pid), fmt.Sprint(instance))
}

func sockPath(cfg control.SMConfig, pid, instance int) string {
	return filepath.Join(instanceDir(cfg, pid, instance), "sock")
}

func fifoPath(cfg control.SMConfig, pid, instance, conn int, dir byte) string {
	return filepath.Join(instanceDir(cfg, pid, instance), fmt.Sprintf("fifo-%d-%c", conn, dir))
}

func arenaShmName(cfg control.SMConfig, pid, instance int) string {
	return fmt.Sprintf("%s_%s-%d-%d", cfg.PathPrefix, currentUser(), pid, instance)
}

func ringShmName(cfg control.SMConfig, pid, instance, conn int, dir byte) string {
	return fmt.Sprintf("%s_%s-%d-%d-%d-%c", cfg.PathPrefix, currentUser(), pid, instance, conn, dir)
}

func shmPath(cfg control.SMConfig, name string) string {
	return filepath.Join(cfg.ShmDir, name)
}

// CleanupStale traverses <tmpdir>/<prefix>_<user> and <shmdir>/<prefix>_<user>-*,
// removing leftovers only for the current user (spec.md §6 global cleanup).
func CleanupStale(cfg control.SMConfig) error {
	user := currentUser()

	sockRoot := filepath.Join(cfg.TmpDir, fmt.Sprintf("%s_%s", cfg.PathPrefix, user))
	if _, err := os.Stat(sockRoot); err == nil {
		if err := os.RemoveAll(sockRoot); err != nil {
			return err
		}
	}

	entries, err := os.ReadDir(cfg.ShmDir)
	if err != nil {
		// A missing/unreadable shm dir is not fatal to cleanup.
		return nil
	}
	prefix := fmt.Sprintf("%s_%s-", cfg.PathPrefix, user)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			_ = os.Remove(filepath.Join(cfg.ShmDir, e.Name()))
		}
	}
	return nil
}
