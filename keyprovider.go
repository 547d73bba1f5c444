package evfs

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"
)

// KeyProvider is a polymorphic source of the key-encryption key. It is
// invoked once at VFS registration; failure is fatal to registration.
type KeyProvider interface {
	// UnwrapKEK materializes the 32-byte key-encryption key.
	UnwrapKEK() (KEK, error)
}

// Argon2id parameters for passphrase-derived KEKs.
const (
	argon2MemoryKiB = 64 * 1024
	argon2Time      = 3
	argon2Threads   = 1
)

// defaultSalt is the fixed 16-byte salt used when no salt file is
// configured. Equal passphrases then derive equal KEKs across databases;
// supply a salt file for production use.
var defaultSalt = []byte("evfs-default-slt")

// DeviceKeyProvider materializes the KEK from local key material: a
// keyfile holding exactly 32 raw bytes, or a passphrase run through
// Argon2id. The loaded KEK is cached for the provider's lifetime.
type DeviceKeyProvider struct {
	mu         sync.Mutex
	cached     *KEK
	keyfile    string
	passphrase string
	saltFile   string
}

// NewKeyfileProvider returns a provider that reads the KEK from a file
// containing exactly 32 bytes.
func NewKeyfileProvider(path string) *DeviceKeyProvider {
	return &DeviceKeyProvider{keyfile: path}
}

// NewPassphraseProvider returns a provider that derives the KEK from a
// passphrase with Argon2id (64 MiB, t=3, p=1).
func NewPassphraseProvider(passphrase string) *DeviceKeyProvider {
	return &DeviceKeyProvider{passphrase: passphrase}
}

// WithSaltFile sets a file whose contents replace the fixed default salt
// for passphrase derivation.
func (p *DeviceKeyProvider) WithSaltFile(path string) *DeviceKeyProvider {
	p.saltFile = path
	return p
}

// UnwrapKEK loads or derives the KEK, caching the result.
func (p *DeviceKeyProvider) UnwrapKEK() (KEK, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil {
		return *p.cached, nil
	}

	kek, err := p.load()
	if err != nil {
		return KEK{}, err
	}
	p.cached = &kek
	return kek, nil
}

func (p *DeviceKeyProvider) load() (KEK, error) {
	var kek KEK

	switch {
	case p.keyfile != "":
		data, err := os.ReadFile(p.keyfile)
		if err != nil {
			return kek, fmt.Errorf("%w: read keyfile %s: %w", ErrKekUnwrap, p.keyfile, err)
		}
		if len(data) != len(kek) {
			return kek, &ConfigError{
				Field:   "Keyfile",
				Value:   len(data),
				Message: fmt.Sprintf("keyfile must be exactly %d bytes, got %d", len(kek), len(data)),
			}
		}
		copy(kek[:], data)
		return kek, nil

	case p.passphrase != "":
		salt := defaultSalt
		if p.saltFile != "" {
			data, err := os.ReadFile(p.saltFile)
			if err != nil {
				return kek, fmt.Errorf("%w: read salt file %s: %w", ErrKekUnwrap, p.saltFile, err)
			}
			if len(data) == 0 {
				return kek, &ConfigError{Field: "SaltFile", Message: "salt file is empty"}
			}
			salt = data
		}
		derived := argon2.IDKey([]byte(p.passphrase), salt, argon2Time, argon2MemoryKiB, argon2Threads, uint32(len(kek)))
		copy(kek[:], derived)
		return kek, nil

	default:
		return kek, &ConfigError{
			Field:   "DeviceKey",
			Message: "exactly one of keyfile or passphrase must be set",
		}
	}
}

// RemoteKeyClient resolves a KEK held by a remote key service. The
// implementation (cloud SDK, HSM bridge, …) is supplied by the caller.
type RemoteKeyClient interface {
	UnwrapKEK(keyID, endpoint string) ([]byte, error)
}

// TenantKeyProvider delegates KEK materialization to a remote key
// service identified by KeyID at Endpoint.
type TenantKeyProvider struct {
	KeyID    string
	Endpoint string
	Client   RemoteKeyClient
}

// UnwrapKEK asks the remote client for the KEK.
func (p *TenantKeyProvider) UnwrapKEK() (KEK, error) {
	var kek KEK
	if p.Client == nil {
		return kek, &ConfigError{
			Field:   "TenantKey",
			Message: "remote key client is not configured",
		}
	}
	if p.KeyID == "" {
		return kek, &ConfigError{Field: "TenantKey", Message: "key id cannot be empty"}
	}

	data, err := p.Client.UnwrapKEK(p.KeyID, p.Endpoint)
	if err != nil {
		return kek, fmt.Errorf("%w: key service %s: %w", ErrKekUnwrap, p.KeyID, err)
	}
	if len(data) != len(kek) {
		return kek, fmt.Errorf("%w: key service returned %d bytes, want %d", ErrKekUnwrap, len(data), len(kek))
	}
	copy(kek[:], data)
	return kek, nil
}
