package evfs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTempKeyfile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "key.bin")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("failed to write keyfile: %v", err)
	}
	return path
}

func TestKeyfileProvider(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = 0xAA
	}
	path := writeTempKeyfile(t, key)

	p := NewKeyfileProvider(path)
	kek, err := p.UnwrapKEK()
	if err != nil {
		t.Fatalf("UnwrapKEK failed: %v", err)
	}
	for i, b := range kek {
		if b != 0xAA {
			t.Fatalf("kek[%d] = %#x, want 0xAA", i, b)
		}
	}
}

func TestKeyfileProvider_WrongSize(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33, 64} {
		path := writeTempKeyfile(t, make([]byte, size))
		if _, err := NewKeyfileProvider(path).UnwrapKEK(); !IsConfigError(err) {
			t.Errorf("size %d: expected config error, got %v", size, err)
		}
	}
}

func TestKeyfileProvider_Missing(t *testing.T) {
	p := NewKeyfileProvider(filepath.Join(t.TempDir(), "nope.bin"))
	if _, err := p.UnwrapKEK(); !errors.Is(err, ErrKekUnwrap) {
		t.Errorf("expected ErrKekUnwrap, got %v", err)
	}
}

func TestKeyfileProvider_Caches(t *testing.T) {
	key := make([]byte, 32)
	path := writeTempKeyfile(t, key)

	p := NewKeyfileProvider(path)
	kek1, err := p.UnwrapKEK()
	if err != nil {
		t.Fatalf("UnwrapKEK failed: %v", err)
	}

	// Key material is cached; removing the file does not matter.
	os.Remove(path)
	kek2, err := p.UnwrapKEK()
	if err != nil {
		t.Fatalf("cached UnwrapKEK failed: %v", err)
	}
	if kek1 != kek2 {
		t.Error("cached KEK differs")
	}
}

func TestPassphraseProvider_Deterministic(t *testing.T) {
	if testing.Short() {
		t.Skip("argon2id derivation is slow")
	}

	kek1, err := NewPassphraseProvider("correct horse").UnwrapKEK()
	if err != nil {
		t.Fatalf("UnwrapKEK failed: %v", err)
	}
	kek2, err := NewPassphraseProvider("correct horse").UnwrapKEK()
	if err != nil {
		t.Fatalf("UnwrapKEK failed: %v", err)
	}
	if kek1 != kek2 {
		t.Error("same passphrase derived different KEKs")
	}

	kek3, err := NewPassphraseProvider("battery staple").UnwrapKEK()
	if err != nil {
		t.Fatalf("UnwrapKEK failed: %v", err)
	}
	if kek1 == kek3 {
		t.Error("different passphrases derived the same KEK")
	}
}

func TestPassphraseProvider_SaltFile(t *testing.T) {
	if testing.Short() {
		t.Skip("argon2id derivation is slow")
	}

	saltPath := filepath.Join(t.TempDir(), "salt")
	if err := os.WriteFile(saltPath, []byte("sixteen-byte-slt"), 0600); err != nil {
		t.Fatalf("failed to write salt: %v", err)
	}

	withSalt, err := NewPassphraseProvider("pw").WithSaltFile(saltPath).UnwrapKEK()
	if err != nil {
		t.Fatalf("UnwrapKEK with salt file failed: %v", err)
	}
	withDefault, err := NewPassphraseProvider("pw").UnwrapKEK()
	if err != nil {
		t.Fatalf("UnwrapKEK failed: %v", err)
	}
	if withSalt == withDefault {
		t.Error("salt file had no effect on derivation")
	}
}

func TestDeviceKeyProvider_NoSource(t *testing.T) {
	p := &DeviceKeyProvider{}
	if _, err := p.UnwrapKEK(); !IsConfigError(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

type stubRemoteClient struct {
	kek  []byte
	errs error
}

func (c *stubRemoteClient) UnwrapKEK(keyID, endpoint string) ([]byte, error) {
	return c.kek, c.errs
}

func TestTenantKeyProvider(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = 0x11
	}

	p := &TenantKeyProvider{KeyID: "projects/x/keys/y", Client: &stubRemoteClient{kek: key}}
	kek, err := p.UnwrapKEK()
	if err != nil {
		t.Fatalf("UnwrapKEK failed: %v", err)
	}
	if kek[0] != 0x11 {
		t.Error("unexpected KEK bytes")
	}
}

func TestTenantKeyProvider_NoClient(t *testing.T) {
	p := &TenantKeyProvider{KeyID: "k"}
	if _, err := p.UnwrapKEK(); !IsConfigError(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestTenantKeyProvider_ShortKey(t *testing.T) {
	p := &TenantKeyProvider{KeyID: "k", Client: &stubRemoteClient{kek: make([]byte, 16)}}
	if _, err := p.UnwrapKEK(); !errors.Is(err, ErrKekUnwrap) {
		t.Errorf("expected ErrKekUnwrap, got %v", err)
	}
}
