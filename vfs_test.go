package evfs

import (
	"bytes"
	"os"
	"testing"

	"github.com/psanford/sqlite3vfs"
)

func TestVFS_New_Defaults(t *testing.T) {
	fs := newTestMemFS(t)
	v, err := New(fs, &Config{KeyProvider: staticKeyProvider{kek: testKEK(0xAA)}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if v.Name() != DefaultVFSName {
		t.Errorf("default VFS name = %q", v.Name())
	}
	if v.pageSize != DefaultPageSize || v.reserve != DefaultReserveSize {
		t.Errorf("defaults not applied: page=%d reserve=%d", v.pageSize, v.reserve)
	}
}

func TestVFS_New_NilBase(t *testing.T) {
	_, err := New(nil, &Config{KeyProvider: staticKeyProvider{kek: testKEK(0xAA)}})
	if !IsConfigError(err) {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestVFS_New_ProviderFailure(t *testing.T) {
	fs := newTestMemFS(t)
	_, err := New(fs, &Config{KeyProvider: NewKeyfileProvider("/does/not/exist")})
	if err == nil {
		t.Fatal("expected registration-time failure from the key provider")
	}
}

func TestVFS_AuxiliaryPassthrough(t *testing.T) {
	fs := newTestMemFS(t)
	v := newTestVFS(t, fs, 0xAA)

	f, _, err := v.Open("/app.db-journal", sqlite3vfs.OpenMainJournal|sqlite3vfs.OpenReadWrite|sqlite3vfs.OpenCreate)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	defer f.Close()

	pattern := make([]byte, 4096)
	for i := range pattern {
		pattern[i] = byte(i * 3)
	}
	if _, err := f.WriteAt(pattern, 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	got := make([]byte, 4096)
	if _, err := f.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, pattern) {
		t.Error("journal read differs from written pattern")
	}

	// The raw bytes on disk equal the pattern: no encryption, no
	// trailer.
	raw := rawBytes(t, fs, "/app.db-journal", 0, 4096)
	if !bytes.Equal(raw, pattern) {
		t.Error("journal bytes on disk were transformed")
	}

	size, err := f.FileSize()
	if err != nil {
		t.Fatalf("FileSize failed: %v", err)
	}
	if size != 4096 {
		t.Errorf("journal size = %d, want 4096", size)
	}
}

func TestVFS_WALPassthrough(t *testing.T) {
	fs := newTestMemFS(t)
	v := newTestVFS(t, fs, 0xAA)

	f, _, err := v.Open("/app.db-wal", sqlite3vfs.OpenWAL|sqlite3vfs.OpenReadWrite|sqlite3vfs.OpenCreate)
	if err != nil {
		t.Fatalf("failed to open WAL: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteAt([]byte("wal frame"), 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	raw := rawBytes(t, fs, "/app.db-wal", 0, 9)
	if string(raw) != "wal frame" {
		t.Errorf("WAL bytes on disk = %q", raw)
	}
}

func TestVFS_DeleteRemovesSidecar(t *testing.T) {
	fs := newTestMemFS(t)
	v := newTestVFS(t, fs, 0xAA)

	f := openMain(t, v, "/app.db", true)
	if _, err := f.WriteAt(patternPage(2), testPageSize); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	f.Close()

	if _, err := fs.Stat(SidecarPath("/app.db")); err != nil {
		t.Fatalf("sidecar missing before delete: %v", err)
	}

	if err := v.Delete("/app.db", false); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := fs.Stat("/app.db"); !os.IsNotExist(err) {
		t.Errorf("database still present after delete: %v", err)
	}
	if _, err := fs.Stat(SidecarPath("/app.db")); !os.IsNotExist(err) {
		t.Errorf("sidecar still present after delete: %v", err)
	}
}

func TestVFS_DeleteMissingFile(t *testing.T) {
	fs := newTestMemFS(t)
	v := newTestVFS(t, fs, 0xAA)
	if err := v.Delete("/never-existed.db", false); err != nil {
		t.Errorf("Delete of missing file failed: %v", err)
	}
}

func TestVFS_Access(t *testing.T) {
	fs := newTestMemFS(t)
	v := newTestVFS(t, fs, 0xAA)

	ok, err := v.Access("/app.db", sqlite3vfs.AccessExists)
	if err != nil {
		t.Fatalf("Access failed: %v", err)
	}
	if ok {
		t.Error("Access reports a missing file as present")
	}

	f := openMain(t, v, "/app.db", true)
	f.Close()

	ok, err = v.Access("/app.db", sqlite3vfs.AccessExists)
	if err != nil {
		t.Fatalf("Access failed: %v", err)
	}
	if !ok {
		t.Error("Access reports an existing file as missing")
	}
}

func TestVFS_FullPathname(t *testing.T) {
	fs := newTestMemFS(t)
	v := newTestVFS(t, fs, 0xAA)

	if got := v.FullPathname("/a/b/../c.db"); got != "/a/c.db" {
		t.Errorf("FullPathname = %q", got)
	}
}

func TestVFS_WrongKEKFailsOpen(t *testing.T) {
	fs := newTestMemFS(t)

	v1 := newTestVFS(t, fs, 0xAA)
	f := openMain(t, v1, "/app.db", true)
	if _, err := f.WriteAt(patternPage(2), testPageSize); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	f.Close()

	// A VFS holding a different KEK must refuse the database.
	v2 := newTestVFS(t, fs, 0xBB)
	_, _, err := v2.Open("/app.db", sqlite3vfs.OpenMainDB|sqlite3vfs.OpenReadWrite)
	if !IsKeyringCorrupt(err) {
		t.Errorf("expected keyring-corrupt error with wrong KEK, got %v", err)
	}
}

func TestVFS_SameKEKSharedData(t *testing.T) {
	fs := newTestMemFS(t)

	v1 := newTestVFS(t, fs, 0xAA)
	f1 := openMain(t, v1, "/app.db", true)
	defer f1.Close()
	page := patternPage(2)
	if _, err := f1.WriteAt(page, testPageSize); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	// A second registration with the same KEK observes the same data.
	v2 := newTestVFS(t, fs, 0xAA)
	f2 := openMain(t, v2, "/app.db", false)
	defer f2.Close()

	got := make([]byte, testPayload)
	if _, err := f2.ReadAt(got, testPageSize); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, page[:testPayload]) {
		t.Error("second VFS read different payload")
	}
}

func TestVFS_TempFileEmptyName(t *testing.T) {
	fs := newTestMemFS(t)
	if err := fs.MkdirAll(fs.TempDir(), 0755); err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	v := newTestVFS(t, fs, 0xAA)

	f, _, err := v.Open("", sqlite3vfs.OpenTransientDB|sqlite3vfs.OpenReadWrite|sqlite3vfs.OpenCreate)
	if err != nil {
		t.Fatalf("failed to open transient file: %v", err)
	}
	if _, err := f.WriteAt([]byte("scratch"), 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
