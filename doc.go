// Package evfs provides transparent at-rest encryption for SQLite-class
// database engines by interposing a virtual file system between the engine
// and the host operating system.
//
// # Overview
//
// evfs registers a named VFS with the database engine. Databases opened
// through that VFS have every page after page 1 encrypted with AES-256-GCM
// before it reaches storage and decrypted on the way back. Applications
// treat encryption as a configuration step: build a Config, register the
// VFS, open the database with the VFS name. No other behavioral change is
// visible.
//
// Each page's trailing reserved bytes carry the authentication tag and a
// six byte marker ("EVFSv1") distinguishing encrypted pages from plaintext
// ones. Page 1 stays plaintext so the engine can read the database header;
// its reserved-bytes field (byte 20) is forced to the configured reserve
// size on database creation.
//
// # Key management
//
// Pages are encrypted under a per-database data encryption key (DEK). DEKs
// are generated randomly on first use, wrapped under a key-encryption key
// (KEK) supplied by a KeyProvider, and persisted in a sidecar file next to
// the database (<db>.evfs-keyring). Plaintext DEKs live only in process
// memory. The KEK comes from a local keyfile, an Argon2id-derived
// passphrase, or a remote key service.
//
// # Basic Usage
//
//	base, _ := osfs.NewFS()
//
//	config, err := evfs.NewConfig(evfs.DeviceKey{Keyfile: "/etc/evfs/key.bin"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	vfs, err := evfs.New(base, config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := vfs.Register(); err != nil {
//	    log.Fatal(err)
//	}
//
//	db, err := sql.Open("sqlite3", "file:app.db?vfs=evfs")
//
// # Limitations
//
// Page 1 remains plaintext and leaks schema metadata. Rollback journals,
// write-ahead logs, shared-memory files and temporary files pass through
// unencrypted; see StoragePolicy for keeping them off persistent media.
// There is no re-keying or keyring compaction.
package evfs
