package evfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Sidecar file format. The sidecar lives at <db_path>.evfs-keyring and
// holds only wrapped DEKs:
//
//	[magic: "EVFSKR1\0"][version: u16 LE][count: u16 LE][entries...]
//
// Each entry:
//
//	[scope_kind: u8][scope_name_len: u16 LE][scope_name][wrapped_dek: 60]

const (
	// SidecarSuffix is appended to the database path to form the sidecar
	// path.
	SidecarSuffix = ".evfs-keyring"

	sidecarVersion = 1
)

var sidecarMagic = [8]byte{'E', 'V', 'F', 'S', 'K', 'R', '1', 0}

// SidecarPath returns the keyring sidecar path for a database path.
func SidecarPath(dbPath string) string {
	return dbPath + SidecarSuffix
}

// sidecarEntry is one scope's wrapped DEK.
type sidecarEntry struct {
	Scope   KeyScope
	Wrapped [WrappedDEKSize]byte
}

// encodeSidecar serializes entries into the sidecar wire format.
func encodeSidecar(entries []sidecarEntry) ([]byte, error) {
	if len(entries) > 0xFFFF {
		return nil, fmt.Errorf("too many keyring entries: %d", len(entries))
	}

	buf := new(bytes.Buffer)
	buf.Write(sidecarMagic[:])
	binary.Write(buf, binary.LittleEndian, uint16(sidecarVersion))
	binary.Write(buf, binary.LittleEndian, uint16(len(entries)))

	for _, e := range entries {
		if len(e.Scope.Name) > 0xFFFF {
			return nil, fmt.Errorf("scope name too long: %d bytes", len(e.Scope.Name))
		}
		buf.WriteByte(byte(e.Scope.Kind))
		binary.Write(buf, binary.LittleEndian, uint16(len(e.Scope.Name)))
		buf.WriteString(e.Scope.Name)
		buf.Write(e.Wrapped[:])
	}
	return buf.Bytes(), nil
}

// decodeSidecar parses the sidecar wire format. Any structural problem
// reports ErrKeyringCorrupt.
func decodeSidecar(data []byte) ([]sidecarEntry, error) {
	if len(data) < len(sidecarMagic)+4 {
		return nil, fmt.Errorf("%w: sidecar truncated at %d bytes", ErrKeyringCorrupt, len(data))
	}
	if !bytes.Equal(data[:len(sidecarMagic)], sidecarMagic[:]) {
		return nil, fmt.Errorf("%w: bad sidecar magic", ErrKeyringCorrupt)
	}
	off := len(sidecarMagic)

	version := binary.LittleEndian.Uint16(data[off:])
	off += 2
	if version > sidecarVersion {
		return nil, fmt.Errorf("%w: %w: version %d", ErrKeyringCorrupt, ErrUnsupportedVersion, version)
	}

	count := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2

	entries := make([]sidecarEntry, 0, count)
	for i := 0; i < count; i++ {
		if off+3 > len(data) {
			return nil, fmt.Errorf("%w: entry %d truncated", ErrKeyringCorrupt, i)
		}
		kind := ScopeKind(data[off])
		off++
		nameLen := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2

		if off+nameLen+WrappedDEKSize > len(data) {
			return nil, fmt.Errorf("%w: entry %d truncated", ErrKeyringCorrupt, i)
		}
		name := string(data[off : off+nameLen])
		off += nameLen

		var e sidecarEntry
		e.Scope = KeyScope{Kind: kind, Name: name}
		copy(e.Wrapped[:], data[off:off+WrappedDEKSize])
		off += WrappedDEKSize
		entries = append(entries, e)
	}

	if off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrKeyringCorrupt, len(data)-off)
	}
	return entries, nil
}
