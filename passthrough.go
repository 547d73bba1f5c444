package evfs

import (
	"errors"
	"io"

	"github.com/absfs/absfs"
	"github.com/psanford/sqlite3vfs"
)

// passthroughFile is the handle for auxiliary files: rollback journals,
// write-ahead logs, super-journals and temporaries. All I/O forwards to
// the platform file unchanged.
type passthroughFile struct {
	base          absfs.File
	fs            absfs.FileSystem
	path          string
	deleteOnClose bool
	lockLevel     sqlite3vfs.LockType
	closed        bool
}

func (f *passthroughFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, ErrFileClosed
	}
	n, err := f.base.ReadAt(p, off)
	if err != nil && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
		for i := n; i < len(p); i++ {
			p[i] = 0
		}
		return len(p), sqlite3vfs.IOErrorShortRead
	}
	return n, err
}

func (f *passthroughFile) WriteAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, ErrFileClosed
	}
	return f.base.WriteAt(p, off)
}

func (f *passthroughFile) Truncate(size int64) error {
	if f.closed {
		return ErrFileClosed
	}
	return f.base.Truncate(size)
}

func (f *passthroughFile) Sync(flag sqlite3vfs.SyncType) error {
	if f.closed {
		return ErrFileClosed
	}
	return f.base.Sync()
}

func (f *passthroughFile) FileSize() (int64, error) {
	if f.closed {
		return 0, ErrFileClosed
	}
	info, err := f.base.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (f *passthroughFile) Lock(elock sqlite3vfs.LockType) error {
	if elock > f.lockLevel {
		f.lockLevel = elock
	}
	return nil
}

func (f *passthroughFile) Unlock(elock sqlite3vfs.LockType) error {
	if elock < f.lockLevel {
		f.lockLevel = elock
	}
	return nil
}

func (f *passthroughFile) CheckReservedLock() (bool, error) {
	return f.lockLevel >= sqlite3vfs.LockReserved, nil
}

func (f *passthroughFile) SectorSize() int64 {
	return sectorSize
}

func (f *passthroughFile) DeviceCharacteristics() sqlite3vfs.DeviceCharacteristic {
	return 0
}

func (f *passthroughFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	err := f.base.Close()
	if f.deleteOnClose {
		_ = f.fs.Remove(f.path)
	}
	return err
}
