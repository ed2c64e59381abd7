// Package shmem reads camera frames from a shared memory ring.
//
// Memory layout (little endian):
//
//	0   uint32 sequence, number of frames written so far
//	4   uint32 unit size
//	8   uint32 unit count
//	12  uint32 length of each unit, unit count times
//	... unit count times unit size bytes of frame data
package shmem

import (
	"encoding/binary"
	"errors"
)

const headerSize = 12

var (
	ErrTooSmall    = errors.New("shmem: memory too small")
	ErrBadHeader   = errors.New("shmem: wrong ring header")
	ErrFrameTooBig = errors.New("shmem: frame bigger than unit size")
)

type Ring struct {
	mem       []byte
	unitSize  int
	unitCount int
}

func Size(unitSize, unitCount int) int {
	return headerSize + unitCount*4 + unitCount*unitSize
}

// NewRing initialise header in mem, used by the producer side
func NewRing(mem []byte, unitSize, unitCount int) (*Ring, error) {
	if unitSize <= 0 || unitCount <= 0 {
		return nil, ErrBadHeader
	}
	if len(mem) < Size(unitSize, unitCount) {
		return nil, ErrTooSmall
	}

	binary.LittleEndian.PutUint32(mem[0:], 0)
	binary.LittleEndian.PutUint32(mem[4:], uint32(unitSize))
	binary.LittleEndian.PutUint32(mem[8:], uint32(unitCount))

	return &Ring{mem: mem, unitSize: unitSize, unitCount: unitCount}, nil
}

// OpenRing check header from producer
func OpenRing(mem []byte) (*Ring, error) {
	if len(mem) < headerSize {
		return nil, ErrTooSmall
	}

	unitSize := int(binary.LittleEndian.Uint32(mem[4:]))
	unitCount := int(binary.LittleEndian.Uint32(mem[8:]))
	if unitSize <= 0 || unitCount <= 0 {
		return nil, ErrBadHeader
	}
	if len(mem) < Size(unitSize, unitCount) {
		return nil, ErrTooSmall
	}

	return &Ring{mem: mem, unitSize: unitSize, unitCount: unitCount}, nil
}

func (r *Ring) Sequence() uint32 {
	return binary.LittleEndian.Uint32(r.mem)
}

func (r *Ring) Write(frame []byte) error {
	if len(frame) > r.unitSize {
		return ErrFrameTooBig
	}

	seq := r.Sequence()
	i := int(seq % uint32(r.unitCount))

	copy(r.unit(i), frame)
	binary.LittleEndian.PutUint32(r.mem[headerSize+i*4:], uint32(len(frame)))
	binary.LittleEndian.PutUint32(r.mem, seq+1)

	return nil
}

// Latest return last written frame. The slice points to the shared memory
// and will be overwritten after unit count new frames.
func (r *Ring) Latest() (uint32, []byte) {
	seq := r.Sequence()
	if seq == 0 {
		return 0, nil
	}

	i := int((seq - 1) % uint32(r.unitCount))

	n := int(binary.LittleEndian.Uint32(r.mem[headerSize+i*4:]))
	if n <= 0 || n > r.unitSize {
		return seq, nil
	}

	return seq, r.unit(i)[:n]
}

func (r *Ring) unit(i int) []byte {
	offset := headerSize + r.unitCount*4 + i*r.unitSize
	return r.mem[offset : offset+r.unitSize]
}
