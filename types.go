package evfs

import (
	"fmt"
	"log/slog"
)

const (
	// TagLen is the size of the AEAD authentication tag stored in each
	// encrypted page's reserved tail.
	TagLen = 16

	// MarkerLen is the size of the encryption marker following the tag.
	MarkerLen = 6

	// MinReserveSize is the smallest reserve that fits tag plus marker.
	MinReserveSize = TagLen + MarkerLen

	// MaxReserveSize is bounded by the single-byte reserved-bytes field
	// in the database header.
	MaxReserveSize = 255

	// MinPageSize and MaxPageSize bound the configurable page size.
	MinPageSize = 512
	MaxPageSize = 65536

	// DefaultPageSize matches the engine's usual default.
	DefaultPageSize = 4096

	// DefaultReserveSize leaves spare reserved bytes beyond tag+marker.
	DefaultReserveSize = 48

	// DefaultVFSName is the VFS name used when Config.VFSName is empty.
	DefaultVFSName = "evfs"
)

// marker identifies encrypted pages. Its absence in a page's reserved
// tail means the page is plaintext.
var marker = [MarkerLen]byte{'E', 'V', 'F', 'S', 'v', '1'}

// DEK is a data encryption key. DEKs encrypt database pages and are never
// persisted in plaintext.
type DEK [32]byte

// KEK is a key-encryption key. KEKs wrap DEKs and are materialized once
// per VFS registration by a KeyProvider.
type KEK [32]byte

// ScopeKind discriminates the granularity a DEK is bound to.
type ScopeKind uint8

const (
	// ScopeDatabase binds one DEK to all encrypted pages of a database.
	ScopeDatabase ScopeKind = 0

	// ScopeTable binds a DEK to a single logical table. Reserved: the
	// page I/O path cannot see logical tables, so it always resolves to
	// the database scope.
	ScopeTable ScopeKind = 1
)

// KeyScope identifies the binding domain of a DEK.
type KeyScope struct {
	Kind ScopeKind
	Name string
}

// DatabaseScope returns the whole-database scope.
func DatabaseScope() KeyScope {
	return KeyScope{Kind: ScopeDatabase}
}

// TableScope returns the scope for a single logical table.
func TableScope(name string) KeyScope {
	return KeyScope{Kind: ScopeTable, Name: name}
}

// String returns a stable identifier for the scope, used as the keyring
// map key.
func (s KeyScope) String() string {
	switch s.Kind {
	case ScopeDatabase:
		return "database"
	case ScopeTable:
		return "table:" + s.Name
	default:
		return fmt.Sprintf("unknown(%d):%s", s.Kind, s.Name)
	}
}

// id returns the scope's binary identity, the kind byte followed by the
// name, used as AEAD associated data when wrapping the scope's DEK.
func (s KeyScope) id() []byte {
	b := make([]byte, 1+len(s.Name))
	b[0] = byte(s.Kind)
	copy(b[1:], s.Name)
	return b
}

// Config contains configuration for an encrypting VFS.
type Config struct {
	// VFSName is the name the VFS registers under. Default "evfs".
	VFSName string

	// PageSize is the database page size in bytes. Must be a power of
	// two between 512 and 65536. Default 4096.
	PageSize int

	// ReserveSize is the per-page reserved tail owned by the encryption
	// layer. Must be at least 22 (tag + marker) and at most 255.
	// Default 48.
	ReserveSize int

	// KeyProvider supplies the key-encryption key.
	KeyProvider KeyProvider

	// Logger receives best-effort diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Validate checks if the configuration is valid, filling defaults for
// zero-valued fields.
func (c *Config) Validate() error {
	if c == nil {
		return &ConfigError{Message: "config cannot be nil"}
	}
	if c.KeyProvider == nil {
		return &ConfigError{Field: "KeyProvider", Message: "key provider cannot be nil"}
	}
	if c.VFSName == "" {
		c.VFSName = DefaultVFSName
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.ReserveSize == 0 {
		c.ReserveSize = DefaultReserveSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if err := validatePageSize(c.PageSize); err != nil {
		return err
	}
	if err := validateReserveSize(c.ReserveSize, c.PageSize); err != nil {
		return err
	}
	return nil
}
