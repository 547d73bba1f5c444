package evfs

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Side files — rollback journals, write-ahead logs, temporaries — pass
// through this VFS unencrypted. StoragePolicy evaluates where those
// files would land and recommends engine settings that keep plaintext
// off persistent media.

// Enforce selects how a policy violation is surfaced.
type Enforce int

const (
	// EnforceWarn records violations in the report notes.
	EnforceWarn Enforce = iota
	// EnforceError makes Evaluate return an error on violation.
	EnforceError
)

// JournalModePolicy governs the rollback journal placement.
type JournalModePolicy int

const (
	// JournalMemory forces journal_mode=MEMORY (no on-disk journal).
	JournalMemory JournalModePolicy = iota
	// JournalOff forces journal_mode=OFF (no rollback journal at all).
	JournalOff
	// JournalDeleteIfRamdisk allows journal_mode=DELETE only when the
	// database directory is on a ram-backed filesystem.
	JournalDeleteIfRamdisk
)

// TempStorePolicy governs temporary file placement.
type TempStorePolicy int

const (
	// TempMemory forces temp_store=MEMORY.
	TempMemory TempStorePolicy = iota
	// TempFileIfRamdisk allows temp_store=FILE only when the temp
	// directory is on a ram-backed filesystem.
	TempFileIfRamdisk
)

// StoragePolicy is the side-file placement policy for one database.
type StoragePolicy struct {
	JournalMode JournalModePolicy
	TempStore   TempStorePolicy
	Enforce     Enforce
}

// DefaultStoragePolicy keeps journals and temp storage in memory and
// only warns on violations.
func DefaultStoragePolicy() StoragePolicy {
	return StoragePolicy{
		JournalMode: JournalMemory,
		TempStore:   TempMemory,
		Enforce:     EnforceWarn,
	}
}

// PolicyReport describes what Evaluate decided and why.
type PolicyReport struct {
	DBDir         string
	DBDirFstype   string // empty when undetectable
	TempDir       string
	TempDirFstype string
	JournalPragma string // recommended journal_mode pragma value
	TempPragma    string // recommended temp_store pragma value
	Notes         []string
}

func (r *PolicyReport) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// Evaluate resolves the policy against the filesystems backing the
// database directory and the temp directory.
func (p StoragePolicy) Evaluate(dbPath string) (*PolicyReport, error) {
	report := &PolicyReport{
		DBDir:   filepath.Dir(dbPath),
		TempDir: os.TempDir(),
	}
	report.DBDirFstype = fstypeForPath(report.DBDir)
	report.TempDirFstype = fstypeForPath(report.TempDir)

	switch p.JournalMode {
	case JournalMemory:
		report.JournalPragma = "MEMORY"
	case JournalOff:
		report.JournalPragma = "OFF"
		report.note("journal_mode=OFF disables rollback; interrupted transactions corrupt the database")
	case JournalDeleteIfRamdisk:
		if isRamdiskFstype(report.DBDirFstype) {
			report.JournalPragma = "DELETE"
		} else {
			report.JournalPragma = "MEMORY"
			report.note("database directory %s is on %q, not a ramdisk; journal falls back to MEMORY",
				report.DBDir, report.DBDirFstype)
			if p.Enforce == EnforceError {
				return report, fmt.Errorf("storage policy: journal_mode=DELETE requires a ramdisk, %s is on %q",
					report.DBDir, report.DBDirFstype)
			}
		}
	}

	switch p.TempStore {
	case TempMemory:
		report.TempPragma = "MEMORY"
	case TempFileIfRamdisk:
		if isRamdiskFstype(report.TempDirFstype) {
			report.TempPragma = "FILE"
		} else {
			report.TempPragma = "MEMORY"
			report.note("temp directory %s is on %q, not a ramdisk; temp_store falls back to MEMORY",
				report.TempDir, report.TempDirFstype)
			if p.Enforce == EnforceError {
				return report, fmt.Errorf("storage policy: temp_store=FILE requires a ramdisk, %s is on %q",
					report.TempDir, report.TempDirFstype)
			}
		}
	}

	return report, nil
}

func isRamdiskFstype(fstype string) bool {
	return fstype == "tmpfs" || fstype == "ramfs"
}

// fstypeForPath resolves the filesystem type backing a path. Only
// implemented on Linux via /proc/self/mountinfo; elsewhere it returns
// the empty string and ramdisk checks fail closed.
func fstypeForPath(path string) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}

	data, err := os.ReadFile("/proc/self/mountinfo")
	if err != nil {
		return ""
	}

	bestLen := -1
	bestType := ""
	for _, line := range strings.Split(string(data), "\n") {
		pre, post, ok := strings.Cut(line, " - ")
		if !ok {
			continue
		}
		preFields := strings.Fields(pre)
		if len(preFields) < 5 {
			continue
		}
		mountPoint := preFields[4]

		postFields := strings.Fields(post)
		if len(postFields) == 0 {
			continue
		}

		if pathHasPrefix(resolved, mountPoint) && len(mountPoint) > bestLen {
			bestLen = len(mountPoint)
			bestType = postFields[0]
		}
	}
	return bestType
}

func pathHasPrefix(path, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
