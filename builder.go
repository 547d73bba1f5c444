package evfs

import (
	"os"

	"github.com/absfs/absfs"
	"github.com/absfs/osfs"
	"github.com/joho/godotenv"
)

// Mode selects how the key-encryption key is sourced.
type Mode interface {
	provider() (KeyProvider, error)
}

// DeviceKey sources the KEK from local material: a keyfile holding
// exactly 32 bytes, or a passphrase. Exactly one of Keyfile and
// Passphrase must be set. SaltFile optionally replaces the fixed
// passphrase salt.
type DeviceKey struct {
	Keyfile    string
	Passphrase string
	SaltFile   string
}

func (m DeviceKey) provider() (KeyProvider, error) {
	switch {
	case m.Keyfile != "" && m.Passphrase != "":
		return nil, &ConfigError{
			Field:   "DeviceKey",
			Message: "keyfile and passphrase are mutually exclusive",
		}
	case m.Keyfile != "":
		return NewKeyfileProvider(m.Keyfile), nil
	case m.Passphrase != "":
		p := NewPassphraseProvider(m.Passphrase)
		if m.SaltFile != "" {
			p = p.WithSaltFile(m.SaltFile)
		}
		return p, nil
	default:
		return nil, &ConfigError{
			Field:   "DeviceKey",
			Message: "exactly one of keyfile or passphrase must be set",
		}
	}
}

// TenantKey delegates KEK materialization to a remote key service.
type TenantKey struct {
	KeyID    string
	Endpoint string
	Client   RemoteKeyClient
}

func (m TenantKey) provider() (KeyProvider, error) {
	if m.KeyID == "" {
		return nil, &ConfigError{Field: "TenantKey", Message: "key id cannot be empty"}
	}
	return &TenantKeyProvider{KeyID: m.KeyID, Endpoint: m.Endpoint, Client: m.Client}, nil
}

// NewConfig builds a Config with defaults for the given key mode.
func NewConfig(mode Mode) (*Config, error) {
	p, err := mode.provider()
	if err != nil {
		return nil, err
	}
	return &Config{KeyProvider: p}, nil
}

// ConfigFromEnv builds a Config from the environment. A .env file in the
// working directory is honored if present. EVFS_KEYFILE selects keyfile
// mode; EVFS_PASSPHRASE selects passphrase mode (with optional
// EVFS_SALTFILE). Keyfile wins when both are set.
func ConfigFromEnv() (*Config, error) {
	_ = godotenv.Load()

	if kf := os.Getenv("EVFS_KEYFILE"); kf != "" {
		return NewConfig(DeviceKey{Keyfile: kf})
	}
	if pw := os.Getenv("EVFS_PASSPHRASE"); pw != "" {
		return NewConfig(DeviceKey{Passphrase: pw, SaltFile: os.Getenv("EVFS_SALTFILE")})
	}
	return nil, &ConfigError{
		Message: "no key source configured: set EVFS_KEYFILE or EVFS_PASSPHRASE",
	}
}

// RegisterDefault builds an encrypting VFS over the host filesystem and
// registers it. This is the one-call path for applications that only
// need defaults.
func RegisterDefault(config *Config) (*VFS, error) {
	base, err := osfs.NewFS()
	if err != nil {
		return nil, err
	}
	return RegisterNew(base, config)
}

// RegisterNew builds an encrypting VFS over the given base filesystem
// and registers it.
func RegisterNew(base absfs.FileSystem, config *Config) (*VFS, error) {
	v, err := New(base, config)
	if err != nil {
		return nil, err
	}
	if err := v.Register(); err != nil {
		return nil, err
	}
	return v, nil
}
