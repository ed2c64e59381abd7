//go:build !linux

package shmem

import (
	"errors"
)

var ErrUnsupported = errors.New("shmem: SysV shared memory not supported on this platform")

func AttachSysV(key int) ([]byte, func() error, error) {
	return nil, nil, ErrUnsupported
}
