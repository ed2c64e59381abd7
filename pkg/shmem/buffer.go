package shmem

import (
	"errors"
	"time"
)

// AttachFunc maps shared memory with key into the process
type AttachFunc func(key int) (mem []byte, detach func() error, err error)

var ErrNotOpened = errors.New("shmem: buffer not opened")

const (
	DefaultReadTimeout = time.Second
	pollInterval       = time.Millisecond
)

// Buffer reads frames from a ring produced by another process.
// Not safe for concurrent use.
type Buffer struct {
	ReadTimeout time.Duration

	attach  AttachFunc
	detach  func() error
	ring    *Ring
	lastSeq uint32
}

// NewBuffer with nil attach uses SysV shared memory
func NewBuffer(attach AttachFunc) *Buffer {
	if attach == nil {
		attach = AttachSysV
	}
	return &Buffer{ReadTimeout: DefaultReadTimeout, attach: attach}
}

func (b *Buffer) Open(key int) error {
	if b.ring != nil {
		_ = b.Close()
	}

	mem, detach, err := b.attach(key)
	if err != nil {
		return err
	}

	ring, err := OpenRing(mem)
	if err != nil {
		if detach != nil {
			_ = detach()
		}
		return err
	}

	b.ring = ring
	b.detach = detach
	// latest frame written before open is returned by first Read
	b.lastSeq = 0

	return nil
}

// Read wait for a frame newer than the previous one. Return nil if
// the buffer is not opened or no new frame arrives during ReadTimeout.
func (b *Buffer) Read() []byte {
	if b.ring == nil {
		return nil
	}

	deadline := time.Now().Add(b.ReadTimeout)

	for {
		if seq, data := b.ring.Latest(); seq != b.lastSeq {
			b.lastSeq = seq
			if data != nil {
				return data
			}
		}

		if time.Now().After(deadline) {
			return nil
		}

		time.Sleep(pollInterval)
	}
}

func (b *Buffer) Close() error {
	if b.ring == nil {
		return ErrNotOpened
	}

	b.ring = nil

	if b.detach != nil {
		err := b.detach()
		b.detach = nil
		return err
	}

	return nil
}
