package evfs

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/absfs/absfs"
	"github.com/google/uuid"
)

// Keyring holds the scope → DEK bindings for one database. Wrapped DEKs
// are persisted in the sidecar file beside the database; plaintext DEKs
// live only in memory while the keyring is alive.
//
// A single mutex guards the whole keyring. GetOrCreate holds it across
// generation, wrapping, map insertion and the flush, so concurrent calls
// for the same scope produce exactly one DEK. DEK creation happens once
// per scope, so callers blocking on the flush is acceptable.
type Keyring struct {
	mu     sync.Mutex
	fs     absfs.FileSystem
	path   string // sidecar path
	kek    KEK
	logger *slog.Logger

	deks    map[string]DEK                    // scope id → plaintext DEK
	wrapped map[string][WrappedDEKSize]byte   // scope id → persisted form
	scopes  map[string]KeyScope               // scope id → scope
	order   []string                          // stable sidecar entry order
}

// LoadOrInitKeyring reads the sidecar beside dbPath if present,
// unwrapping every entry under kek. A missing sidecar yields an empty
// keyring in memory; nothing is written until the first DEK is
// generated. A sidecar that does not parse (including an unsupported
// version) or a failed unwrap reports ErrKeyringCorrupt; any other read
// failure is returned as a KeyringError wrapping the I/O error.
func LoadOrInitKeyring(fsys absfs.FileSystem, dbPath string, kek KEK, logger *slog.Logger) (*Keyring, error) {
	if logger == nil {
		logger = slog.Default()
	}
	k := &Keyring{
		fs:      fsys,
		path:    SidecarPath(dbPath),
		kek:     kek,
		logger:  logger,
		deks:    make(map[string]DEK),
		wrapped: make(map[string][WrappedDEKSize]byte),
		scopes:  make(map[string]KeyScope),
	}

	data, err := k.readSidecar()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return k, nil
		}
		return nil, &KeyringError{Path: k.path, Op: "load", Err: err}
	}

	entries, err := decodeSidecar(data)
	if err != nil {
		return nil, &KeyringError{Path: k.path, Op: "load", Err: err}
	}

	for _, e := range entries {
		dek, err := unwrapDEK(e.Wrapped[:], kek, e.Scope)
		if err != nil {
			return nil, &KeyringError{Path: k.path, Op: "unwrap", Err: err}
		}
		id := e.Scope.String()
		k.deks[id] = dek
		k.wrapped[id] = e.Wrapped
		k.scopes[id] = e.Scope
		k.order = append(k.order, id)
	}

	logger.Debug("keyring loaded", "sidecar", k.path, "keys", len(entries))
	return k, nil
}

// GetOrCreate returns the DEK for a scope, generating, wrapping and
// persisting a fresh one if the scope has no key yet.
func (k *Keyring) GetOrCreate(scope KeyScope) (DEK, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	id := scope.String()
	if dek, ok := k.deks[id]; ok {
		return dek, nil
	}

	dek, err := generateDEK()
	if err != nil {
		return DEK{}, err
	}
	wrapped, err := wrapDEK(dek, k.kek, scope)
	if err != nil {
		return DEK{}, err
	}

	k.deks[id] = dek
	k.wrapped[id] = wrapped
	k.scopes[id] = scope
	k.order = append(k.order, id)

	if err := k.flushLocked(); err != nil {
		delete(k.deks, id)
		delete(k.wrapped, id)
		delete(k.scopes, id)
		k.order = k.order[:len(k.order)-1]
		return DEK{}, err
	}

	k.logger.Debug("DEK generated", "scope", id, "sidecar", k.path)
	return dek, nil
}

// Flush rewrites the sidecar atomically.
func (k *Keyring) Flush() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.flushLocked()
}

// Close zeroes the plaintext DEKs and empties the DEK map. The wrapped
// keys and scopes are kept.
func (k *Keyring) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for id, dek := range k.deks {
		for i := range dek {
			dek[i] = 0
		}
		k.deks[id] = dek
	}
	k.deks = make(map[string]DEK)
}

func generateDEK() (DEK, error) {
	var dek DEK
	if _, err := rand.Read(dek[:]); err != nil {
		return dek, fmt.Errorf("failed to generate DEK: %w", err)
	}
	return dek, nil
}

func (k *Keyring) readSidecar() ([]byte, error) {
	f, err := k.fs.OpenFile(k.path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// flushLocked rewrites the sidecar: write temp, fsync, rename over the
// final path, then fsync the directory best effort. Callers hold k.mu.
func (k *Keyring) flushLocked() error {
	entries := make([]sidecarEntry, 0, len(k.order))
	for _, id := range k.order {
		entries = append(entries, sidecarEntry{Scope: k.scopes[id], Wrapped: k.wrapped[id]})
	}
	data, err := encodeSidecar(entries)
	if err != nil {
		return &KeyringError{Path: k.path, Op: "flush", Err: err}
	}

	tmp := k.path + "." + uuid.NewString() + ".tmp"
	f, err := k.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return &KeyringError{Path: tmp, Op: "flush", Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		k.fs.Remove(tmp)
		return &KeyringError{Path: tmp, Op: "flush", Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		k.fs.Remove(tmp)
		return &KeyringError{Path: tmp, Op: "flush", Err: err}
	}
	if err := f.Close(); err != nil {
		k.fs.Remove(tmp)
		return &KeyringError{Path: tmp, Op: "flush", Err: err}
	}

	if err := k.fs.Rename(tmp, k.path); err != nil {
		k.fs.Remove(tmp)
		return &KeyringError{Path: k.path, Op: "flush", Err: err}
	}

	// Directory sync is best effort; not every backing filesystem can
	// open a directory handle.
	if d, err := k.fs.OpenFile(filepath.Dir(k.path), os.O_RDONLY, 0); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
