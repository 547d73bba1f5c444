package evfs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/absfs/absfs"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/psanford/sqlite3vfs"
)

// VFS implements sqlite3vfs.VFS with transparent page encryption over a
// base filesystem. Construct with New, then Register to make it visible
// to the engine under its configured name.
//
// The VFS and its KEK are constructed once and immutable thereafter;
// per-database shared state lives in the registry.
type VFS struct {
	name     string
	base     absfs.FileSystem
	pageSize int
	reserve  int
	kek      KEK
	reg      *registry
	logger   *slog.Logger
}

// New builds an encrypting VFS over the base filesystem. The key
// provider is invoked here; its failure is fatal.
func New(base absfs.FileSystem, config *Config) (*VFS, error) {
	if base == nil {
		return nil, &ConfigError{Field: "base", Message: "base filesystem cannot be nil"}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	kek, err := config.KeyProvider.UnwrapKEK()
	if err != nil {
		if IsConfigError(err) || errors.Is(err, ErrKekUnwrap) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrKekUnwrap, err)
	}

	return &VFS{
		name:     config.VFSName,
		base:     base,
		pageSize: config.PageSize,
		reserve:  config.ReserveSize,
		kek:      kek,
		reg:      newRegistry(),
		logger:   config.Logger,
	}, nil
}

// Name returns the name the VFS registers under.
func (v *VFS) Name() string {
	return v.name
}

// Register makes the VFS visible to the engine. Registration is
// process-wide and lives for the process lifetime.
func (v *VFS) Register() error {
	if err := sqlite3vfs.RegisterVFS(v.name, v); err != nil {
		return fmt.Errorf("failed to register VFS %q: %w", v.name, err)
	}
	v.logger.Info("VFS registered", "name", v.name, "page_size", v.pageSize, "reserve", v.reserve)
	return nil
}

// Open classifies the file by the engine's open flags: the main database
// file gets the encrypting page I/O handle, everything else passes
// through.
func (v *VFS) Open(name string, flags sqlite3vfs.OpenFlag) (sqlite3vfs.File, sqlite3vfs.OpenFlag, error) {
	// The engine passes an empty name for transient files it wants the
	// VFS to place itself.
	if name == "" {
		name = filepath.Join(v.base.TempDir(), "evfs-temp-"+uuid.NewString())
		flags |= sqlite3vfs.OpenDeleteOnClose
	}

	osFlags := os.O_RDWR
	if flags&sqlite3vfs.OpenReadOnly != 0 {
		osFlags = os.O_RDONLY
	}
	if flags&sqlite3vfs.OpenCreate != 0 {
		osFlags |= os.O_CREATE
	}
	if flags&sqlite3vfs.OpenExclusive != 0 && flags&sqlite3vfs.OpenCreate != 0 {
		osFlags |= os.O_EXCL
	}

	base, err := v.base.OpenFile(name, osFlags, 0644)
	if err != nil {
		return nil, flags, sqlite3vfs.CantOpenError
	}

	if flags&sqlite3vfs.OpenMainDB == 0 {
		return &passthroughFile{
			base:          base,
			fs:            v.base,
			path:          name,
			deleteOnClose: flags&sqlite3vfs.OpenDeleteOnClose != 0,
		}, flags, nil
	}

	info, err := base.Stat()
	if err != nil {
		base.Close()
		return nil, flags, err
	}

	st, err := v.reg.acquire(v, name)
	if err != nil {
		base.Close()
		v.logger.Warn("keyring bind failed", "db", name, "error", err)
		return nil, flags, err
	}

	f := &dbFile{
		base:              base,
		vfs:               v,
		path:              name,
		st:                st,
		pageSize:          v.pageSize,
		reserve:           v.reserve,
		pendingHeaderInit: flags&sqlite3vfs.OpenCreate != 0 && info.Size() < 100,
		scratch:           make([]byte, v.pageSize),
	}
	return f, flags, nil
}

// Delete removes a file. Deleting a database also removes its keyring
// sidecar; the sidecar is never visible to the engine.
func (v *VFS) Delete(name string, dirSync bool) error {
	if err := v.base.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := v.base.Remove(SidecarPath(name)); err == nil {
		v.logger.Debug("sidecar removed", "db", name)
	}
	if dirSync {
		if d, err := v.base.OpenFile(filepath.Dir(name), os.O_RDONLY, 0); err == nil {
			_ = d.Sync()
			d.Close()
		}
	}
	return nil
}

// Access reports file accessibility from the base filesystem. The
// sidecar is ignored: the engine never sees it.
func (v *VFS) Access(name string, flag sqlite3vfs.AccessFlag) (bool, error) {
	_, err := v.base.Stat(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// FullPathname canonicalizes a path relative to the base filesystem's
// working directory.
func (v *VFS) FullPathname(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	wd, err := v.base.Getwd()
	if err != nil {
		return filepath.Clean(name)
	}
	return filepath.Join(wd, name)
}
