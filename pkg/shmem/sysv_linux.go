//go:build linux

package shmem

import (
	"golang.org/x/sys/unix"
)

// AttachSysV attach existing System V shared memory segment read only
func AttachSysV(key int) ([]byte, func() error, error) {
	id, err := unix.SysvShmGet(key, 0, 0)
	if err != nil {
		return nil, nil, err
	}

	mem, err := unix.SysvShmAttach(id, 0, unix.SHM_RDONLY)
	if err != nil {
		return nil, nil, err
	}

	return mem, func() error {
		return unix.SysvShmDetach(mem)
	}, nil
}
