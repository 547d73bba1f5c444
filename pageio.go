package evfs

import (
	"errors"
	"fmt"
	"io"

	"github.com/absfs/absfs"
	"github.com/psanford/sqlite3vfs"
)

// dbFile is the handle for a main database file. It translates the
// engine's arbitrary offset/length reads and writes into aligned
// whole-page operations: crypto works on whole pages, partial I/O goes
// through read-modify-write over a single scratch page.
//
// The engine serializes access per handle, so the scratch buffer needs
// no lock of its own.
type dbFile struct {
	base absfs.File
	vfs  *VFS
	path string
	st   *dbState

	pageSize int
	reserve  int

	// pendingHeaderInit is set when the file was opened with the create
	// flag while empty (or shorter than the 100-byte header). The first
	// write covering header byte 20 has that byte forced to the reserve
	// size.
	pendingHeaderInit bool

	lockLevel sqlite3vfs.LockType
	closed    bool
	scratch   []byte
}

func (f *dbFile) payloadSize() int64 {
	return int64(f.pageSize - f.reserve)
}

// dek resolves the data key for a page. The file layer cannot see
// logical tables, so every page resolves to the database scope.
func (f *dbFile) dek(pageNo int64) (DEK, error) {
	return f.st.kr.GetOrCreate(DatabaseScope())
}

// readPage materializes the plaintext of page pageNo into the scratch
// buffer. It returns the number of raw bytes that existed on disk; a
// short page is zero-filled past that point.
func (f *dbFile) readPage(pageNo int64) (int, error) {
	p := int64(f.pageSize)
	off := (pageNo - 1) * p

	n, err := f.base.ReadAt(f.scratch, off)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, fmt.Errorf("failed to read page %d: %w", pageNo, err)
	}
	for i := n; i < len(f.scratch); i++ {
		f.scratch[i] = 0
	}

	if pageNo == 1 {
		return n, nil
	}

	dek, err := f.dek(pageNo)
	if err != nil {
		return n, err
	}
	if _, err := DecryptPage(f.scratch, pageNo, dek, f.reserve); err != nil {
		return n, &DecryptError{Path: f.path, PageNo: pageNo, Err: err}
	}
	return n, nil
}

// ReadAt serves an engine read of arbitrary offset and length. Pages are
// decrypted into the scratch buffer and the requested intersection is
// copied out. Ranges past end of file come back zero-filled with the
// engine's short-read code.
func (f *dbFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, ErrFileClosed
	}
	if off < 0 {
		return 0, &ConfigError{Field: "offset", Value: off, Message: "offset cannot be negative"}
	}
	if len(p) == 0 {
		return 0, nil
	}

	ps := int64(f.pageSize)
	first := off / ps
	last := (off + int64(len(p)) - 1) / ps
	short := false

	for idx := first; idx <= last; idx++ {
		pageNo := idx + 1
		pageStart := idx * ps

		n, err := f.readPage(pageNo)
		if err != nil {
			return 0, err
		}

		lo := max64(off, pageStart)
		hi := min64(off+int64(len(p)), pageStart+ps)
		copy(p[lo-off:hi-off], f.scratch[lo-pageStart:hi-pageStart])

		// The request ran past what exists on disk; the copied bytes are
		// already zeros from readPage.
		if hi > pageStart+int64(n) {
			short = true
		}
	}

	if short {
		return len(p), sqlite3vfs.IOErrorShortRead
	}
	return len(p), nil
}

// WriteAt serves an engine write of arbitrary offset and length. Each
// touched page is materialized (unless the write fully covers its
// payload window), patched, and written back whole — encrypted for every
// page except page 1.
func (f *dbFile) WriteAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, ErrFileClosed
	}
	if off < 0 {
		return 0, &ConfigError{Field: "offset", Value: off, Message: "offset cannot be negative"}
	}
	if len(p) == 0 {
		return 0, nil
	}

	ps := int64(f.pageSize)
	first := off / ps
	last := (off + int64(len(p)) - 1) / ps

	for idx := first; idx <= last; idx++ {
		pageNo := idx + 1
		pageStart := idx * ps
		payloadEnd := pageStart + f.payloadSize()

		fullCover := off <= pageStart && off+int64(len(p)) >= payloadEnd
		if pageNo == 1 || !fullCover {
			if _, err := f.readPage(pageNo); err != nil {
				return 0, err
			}
		} else {
			for i := range f.scratch {
				f.scratch[i] = 0
			}
		}

		lo := max64(off, pageStart)
		hi := min64(off+int64(len(p)), pageStart+ps)
		copy(f.scratch[lo-pageStart:hi-pageStart], p[lo-off:hi-off])

		if pageNo == 1 {
			if f.pendingHeaderInit && lo <= pageStart+headerReserveOffset && hi > pageStart+headerReserveOffset {
				f.scratch[headerReserveOffset] = byte(f.reserve)
				f.pendingHeaderInit = false
			}
		} else {
			dek, err := f.dek(pageNo)
			if err != nil {
				return 0, err
			}
			if err := EncryptPage(f.scratch, pageNo, dek, f.reserve); err != nil {
				return 0, err
			}
		}

		if _, err := f.base.WriteAt(f.scratch, pageStart); err != nil {
			return 0, fmt.Errorf("failed to write page %d: %w", pageNo, err)
		}
	}

	return len(p), nil
}

// Truncate resizes the file so the on-disk layout stays a whole number
// of pages: the engine's size is in payload bytes, the disk size in full
// pages.
func (f *dbFile) Truncate(size int64) error {
	if f.closed {
		return ErrFileClosed
	}
	if size < 0 {
		return &ConfigError{Field: "size", Value: size, Message: "size cannot be negative"}
	}
	pages := (size + f.payloadSize() - 1) / f.payloadSize()
	return f.base.Truncate(pages * int64(f.pageSize))
}

// Sync forwards to the platform file. There is no crypto-specific work:
// writes are never coalesced, reordered or deferred.
func (f *dbFile) Sync(flag sqlite3vfs.SyncType) error {
	if f.closed {
		return ErrFileClosed
	}
	return f.base.Sync()
}

// FileSize reconstructs the engine's view of the file from the on-disk
// view: whole pages times the payload size. Partial trailing bytes are
// ignored for sizing but preserved on disk.
func (f *dbFile) FileSize() (int64, error) {
	if f.closed {
		return 0, ErrFileClosed
	}
	info, err := f.base.Stat()
	if err != nil {
		return 0, err
	}
	pages := info.Size() / int64(f.pageSize)
	return pages * f.payloadSize(), nil
}

// Lock raises the handle's lock level. The crypto layer holds no
// lock-dependent state; levels are tracked so CheckReservedLock can
// answer for sibling handles.
func (f *dbFile) Lock(elock sqlite3vfs.LockType) error {
	if f.closed {
		return ErrFileClosed
	}
	if elock <= f.lockLevel {
		return nil
	}
	if f.lockLevel < sqlite3vfs.LockReserved && elock >= sqlite3vfs.LockReserved {
		f.st.addReserved(1)
	}
	f.lockLevel = elock
	return nil
}

// Unlock lowers the handle's lock level.
func (f *dbFile) Unlock(elock sqlite3vfs.LockType) error {
	if f.closed {
		return ErrFileClosed
	}
	if elock >= f.lockLevel {
		return nil
	}
	if f.lockLevel >= sqlite3vfs.LockReserved && elock < sqlite3vfs.LockReserved {
		f.st.addReserved(-1)
	}
	f.lockLevel = elock
	return nil
}

// CheckReservedLock reports whether any handle on this database holds a
// reserved or higher lock.
func (f *dbFile) CheckReservedLock() (bool, error) {
	if f.closed {
		return false, ErrFileClosed
	}
	return f.st.hasReserved(), nil
}

func (f *dbFile) SectorSize() int64 {
	return sectorSize
}

func (f *dbFile) DeviceCharacteristics() sqlite3vfs.DeviceCharacteristic {
	return 0
}

// Close releases this handle's keyring reference and closes the
// platform file.
func (f *dbFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.lockLevel >= sqlite3vfs.LockReserved {
		f.st.addReserved(-1)
	}
	f.vfs.reg.release(f.st)
	return f.base.Close()
}

const (
	// headerReserveOffset is the reserved-bytes field in the standard
	// database header.
	headerReserveOffset = 20

	sectorSize = 512
)

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
