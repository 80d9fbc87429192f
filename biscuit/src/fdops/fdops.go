// Package fdops defines the narrow file-operations interface the
// virtual memory subsystem uses for file-backed and memory-mapped
// pages. The concrete filesystem behind it is a separate, external
// collaborator process-boundary interface rather than a component this
// tree implements; callers are expected to already hold whatever lock
// that filesystem requires before calling through this interface, same
// as fd.Fd_t's Fops.
package fdops

import "defs"

/// Fdops_i is the subset of file-descriptor operations the VM subsystem
/// needs: reading/writing pages at an offset, duplication, and a stable
/// identity for shared-page deduplication.
type Fdops_i interface {
	// ReadAt reads len(buf) bytes starting at off, returning the number
	// of bytes actually read (less than len(buf) at EOF).
	ReadAt(buf []uint8, off int) (int, defs.Err_t)
	// WriteAt writes buf at off.
	WriteAt(buf []uint8, off int) (int, defs.Err_t)
	// Size returns the file's current length in bytes.
	Size() (int, defs.Err_t)
	// Reopen duplicates the underlying open file (for fork-like reuse).
	Reopen() defs.Err_t
	// Close releases the underlying open file.
	Close() defs.Err_t
	// FileID returns a value stable for the lifetime of the underlying
	// inode, used as frame.SharedKey.FileID so two processes mapping the
	// same file dedup onto one frame.
	FileID() int64
}
