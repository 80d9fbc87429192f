// Package block models the raw block device the swap manager writes
// evicted pages to, mirroring the synchronous request/ack style of
// fs's Disk_i but narrowed to sector read/write (no queueing, no driver
// interrupt completion -- block device driver plumbing is out of scope).
package block

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// SectorSize is the device sector size in bytes.
const SectorSize = 512

/// Device is the narrow block-device interface the swap manager consumes.
type Device interface {
	ReadSector(sector int, buf []byte) error
	WriteSector(sector int, buf []byte) error
	NumSectors() int
}

/// MemDevice is an in-memory Device used by tests and by any environment
/// without a real backing file.
type MemDevice struct {
	sync.Mutex
	sectors [][SectorSize]byte
}

/// NewMemDevice allocates a zeroed in-memory device with n sectors.
func NewMemDevice(n int) *MemDevice {
	return &MemDevice{sectors: make([][SectorSize]byte, n)}
}

func (d *MemDevice) ReadSector(sector int, buf []byte) error {
	d.Lock()
	defer d.Unlock()
	if sector < 0 || sector >= len(d.sectors) {
		return fmt.Errorf("block: sector %d out of range", sector)
	}
	if len(buf) != SectorSize {
		return fmt.Errorf("block: buffer must be %d bytes", SectorSize)
	}
	copy(buf, d.sectors[sector][:])
	return nil
}

func (d *MemDevice) WriteSector(sector int, buf []byte) error {
	d.Lock()
	defer d.Unlock()
	if sector < 0 || sector >= len(d.sectors) {
		return fmt.Errorf("block: sector %d out of range", sector)
	}
	if len(buf) != SectorSize {
		return fmt.Errorf("block: buffer must be %d bytes", SectorSize)
	}
	copy(d.sectors[sector][:], buf)
	return nil
}

func (d *MemDevice) NumSectors() int {
	return len(d.sectors)
}

/// FileDevice backs a Device with a regular file, opened with O_SYNC so
/// writes are durable the way a real swap partition's would be. This is
/// the Device used outside of tests.
type FileDevice struct {
	sync.Mutex
	f    *os.File
	nsec int
}

/// OpenFileDevice opens (creating if needed) path as a flat file of n
/// sectors and returns a Device backed by it.
func OpenFileDevice(path string, n int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|unix.O_SYNC, 0o600)
	if err != nil {
		return nil, err
	}
	sz := int64(n) * SectorSize
	if err := f.Truncate(sz); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDevice{f: f, nsec: n}, nil
}

func (d *FileDevice) ReadSector(sector int, buf []byte) error {
	d.Lock()
	defer d.Unlock()
	if sector < 0 || sector >= d.nsec {
		return fmt.Errorf("block: sector %d out of range", sector)
	}
	if len(buf) != SectorSize {
		return fmt.Errorf("block: buffer must be %d bytes", SectorSize)
	}
	_, err := d.f.ReadAt(buf, int64(sector)*SectorSize)
	return err
}

func (d *FileDevice) WriteSector(sector int, buf []byte) error {
	d.Lock()
	defer d.Unlock()
	if sector < 0 || sector >= d.nsec {
		return fmt.Errorf("block: sector %d out of range", sector)
	}
	if len(buf) != SectorSize {
		return fmt.Errorf("block: buffer must be %d bytes", SectorSize)
	}
	_, err := d.f.WriteAt(buf, int64(sector)*SectorSize)
	return err
}

func (d *FileDevice) NumSectors() int {
	return d.nsec
}

/// Close releases the backing file.
func (d *FileDevice) Close() error {
	return d.f.Close()
}
