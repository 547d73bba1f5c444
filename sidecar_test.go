package evfs

import (
	"bytes"
	"errors"
	"testing"
)

func TestSidecar_RoundTrip(t *testing.T) {
	entries := []sidecarEntry{
		{Scope: DatabaseScope()},
		{Scope: TableScope("users")},
		{Scope: TableScope("posts")},
	}
	for i := range entries {
		for j := range entries[i].Wrapped {
			entries[i].Wrapped[j] = byte(i*7 + j)
		}
	}

	data, err := encodeSidecar(entries)
	if err != nil {
		t.Fatalf("encodeSidecar failed: %v", err)
	}

	decoded, err := decodeSidecar(data)
	if err != nil {
		t.Fatalf("decodeSidecar failed: %v", err)
	}
	if len(decoded) != len(entries) {
		t.Fatalf("decoded %d entries, want %d", len(decoded), len(entries))
	}
	for i := range entries {
		if decoded[i].Scope != entries[i].Scope {
			t.Errorf("entry %d scope = %v, want %v", i, decoded[i].Scope, entries[i].Scope)
		}
		if decoded[i].Wrapped != entries[i].Wrapped {
			t.Errorf("entry %d wrapped DEK differs", i)
		}
	}
}

func TestSidecar_EmptyKeyring(t *testing.T) {
	data, err := encodeSidecar(nil)
	if err != nil {
		t.Fatalf("encodeSidecar failed: %v", err)
	}
	if len(data) != 12 {
		t.Errorf("empty sidecar is %d bytes, want 12 (magic+version+count)", len(data))
	}

	decoded, err := decodeSidecar(data)
	if err != nil {
		t.Fatalf("decodeSidecar failed: %v", err)
	}
	if len(decoded) != 0 {
		t.Errorf("decoded %d entries from empty sidecar", len(decoded))
	}
}

func TestSidecar_Magic(t *testing.T) {
	data, err := encodeSidecar(nil)
	if err != nil {
		t.Fatalf("encodeSidecar failed: %v", err)
	}
	if !bytes.Equal(data[:8], []byte("EVFSKR1\x00")) {
		t.Errorf("sidecar magic = %q", data[:8])
	}
}

func TestSidecar_BadMagic(t *testing.T) {
	data, _ := encodeSidecar(nil)
	data[0] = 'X'
	if _, err := decodeSidecar(data); !IsKeyringCorrupt(err) {
		t.Errorf("expected keyring-corrupt error, got %v", err)
	}
}

func TestSidecar_UnsupportedVersion(t *testing.T) {
	data, _ := encodeSidecar(nil)
	data[8] = 0xFF
	data[9] = 0xFF
	if _, err := decodeSidecar(data); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestSidecar_Truncated(t *testing.T) {
	entries := []sidecarEntry{{Scope: TableScope("users")}}
	data, err := encodeSidecar(entries)
	if err != nil {
		t.Fatalf("encodeSidecar failed: %v", err)
	}

	for cut := 1; cut < len(data); cut++ {
		if _, err := decodeSidecar(data[:cut]); err == nil {
			t.Errorf("no error decoding sidecar truncated to %d bytes", cut)
		}
	}
}

func TestSidecar_TrailingGarbage(t *testing.T) {
	data, _ := encodeSidecar([]sidecarEntry{{Scope: DatabaseScope()}})
	data = append(data, 0xDE, 0xAD)
	if _, err := decodeSidecar(data); !IsKeyringCorrupt(err) {
		t.Errorf("expected keyring-corrupt error, got %v", err)
	}
}

func TestSidecarPath(t *testing.T) {
	got := SidecarPath("/data/app.db")
	if got != "/data/app.db.evfs-keyring" {
		t.Errorf("SidecarPath = %q", got)
	}
}
