// File: sm/shm.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared-memory region creation/mapping, built directly on
// golang.org/x/sys/unix.Mmap over a file under the shm filesystem path
// (spec.md §6 SHM names). Grounded on the raw mmap/ftruncate idiom seen in
// other_examples' uffd_linux.go and the netstack sharedmem pipe consumer:
// no pack example wraps POSIX shm_open behind a higher-level library, so
// the direct syscall sequence here is the idiom the corpus itself uses
// (see DESIGN.md).

package sm

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/momentics/na-sm/api"
)

// shmRegion is a page-aligned named shared-memory mapping.
type shmRegion struct {
	path string
	size int
	data []byte
	file *os.File
	own  bool // true if this process created (and must unlink) the region
}

// createShm creates (or truncates) a shm-backed file of size bytes and maps
// it read/write.
func createShm(path string, size int) (*shmRegion, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, api.NewError(api.ErrCodeNoMem, "create shm: "+err.Error())
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, api.NewError(api.ErrCodeNoMem, "truncate shm: "+err.Error())
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, api.NewError(api.ErrCodeNoMem, "mmap shm: "+err.Error())
	}
	return &shmRegion{path: path, size: size, data: data, file: f, own: true}, nil
}

// openShm opens and maps an existing shm-backed file created by a peer.
func openShm(path string, size int) (*shmRegion, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, api.NewError(api.ErrCodeProtocolError, "open shm: "+err.Error())
	}
	return mapShmFile(f, "", size, false)
}

// mapShmFromFile maps a shm region from an fd received over SCM_RIGHTS
// (spec.md §4.10): the file is already open, so no path lookup occurs.
func mapShmFromFile(f *os.File, size int) (*shmRegion, error) {
	return mapShmFile(f, "", size, false)
}

func mapShmFile(f *os.File, path string, size int, own bool) (*shmRegion, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, api.NewError(api.ErrCodeProtocolError, "mmap shm: "+err.Error())
	}
	return &shmRegion{path: path, size: size, data: data, file: f, own: own}, nil
}

// close unmaps and closes the region; if this process created it, the
// backing file is also unlinked.
func (r *shmRegion) close() {
	if r == nil {
		return
	}
	_ = unix.Munmap(r.data)
	_ = r.file.Close()
	if r.own {
		_ = os.Remove(r.path)
	}
}
