package domain

import "path/filepath"

const (
	// ConfDirName is the configuration directory relative to the target root.
	ConfDirName = "etc/lpm"

	// StateDirName is the state directory relative to the target root.
	StateDirName = "var/lib/lpm"

	// SystemHookDirName is the system hook directory relative to the target root.
	SystemHookDirName = "usr/share/lpm/hooks"

	// ConfFileName is the key=value configuration file name.
	ConfFileName = "lpm.conf"

	// ArchiveExt is the file extension of package archives.
	ArchiveExt = ".zst"

	// MetadataPath is the archive-internal path of the package record.
	MetadataPath = ".lpm/metadata.json"

	// ManifestPath is the archive-internal path of the package manifest.
	ManifestPath = ".lpm/manifest.json"

	// SignaturePath is the archive-internal path of the detached signature.
	SignaturePath = ".lpm/signature"

	// InstallScriptPath is the archive-internal path of the embedded install script.
	InstallScriptPath = ".lpm-install.sh"

	// DirPerm is the default permission for directories (rwxr-xr-x).
	DirPerm = 0o755

	// FilePerm is the default permission for files (rw-r--r--).
	FilePerm = 0o644

	// PrivateFilePerm is the default permission for private files (rw-------).
	PrivateFilePerm = 0o600
)

// Layout resolves well-known manager paths beneath a target root.
type Layout struct {
	Root string
}

// NewLayout creates a Layout for the given target root.
func NewLayout(root string) Layout {
	if root == "" {
		root = "/"
	}
	return Layout{Root: root}
}

// ConfDir returns the configuration directory.
func (l Layout) ConfDir() string { return filepath.Join(l.Root, ConfDirName) }

// ConfFile returns the path of lpm.conf.
func (l Layout) ConfFile() string { return filepath.Join(l.ConfDir(), ConfFileName) }

// ReposFile returns the path of repos.json.
func (l Layout) ReposFile() string { return filepath.Join(l.ConfDir(), "repos.json") }

// PinsFile returns the path of pins.json.
func (l Layout) PinsFile() string { return filepath.Join(l.ConfDir(), "pins.json") }

// ProtectedFile returns the path of protected.json.
func (l Layout) ProtectedFile() string { return filepath.Join(l.ConfDir(), "protected.json") }

// TrustDir returns the directory of trusted signing keys.
func (l Layout) TrustDir() string { return filepath.Join(l.ConfDir(), "trust") }

// AdminHookDir returns the admin hook override directory.
func (l Layout) AdminHookDir() string { return filepath.Join(l.ConfDir(), "hooks") }

// SystemHookDir returns the system hook directory.
func (l Layout) SystemHookDir() string { return filepath.Join(l.Root, SystemHookDirName) }

// HookDirs returns the hook directories in scan order, admin overrides last.
func (l Layout) HookDirs() []string {
	return []string{l.SystemHookDir(), l.AdminHookDir()}
}

// LegacyScriptDir returns a legacy per-package script directory such as post_install.d.
func (l Layout) LegacyScriptDir(name string) string {
	return filepath.Join(l.SystemHookDir(), name)
}

// StateDir returns the state directory.
func (l Layout) StateDir() string { return filepath.Join(l.Root, StateDirName) }

// DBFile returns the path of the installed-package database.
func (l Layout) DBFile() string { return filepath.Join(l.StateDir(), "state.db") }

// CacheDir returns the blob cache directory.
func (l Layout) CacheDir() string { return filepath.Join(l.StateDir(), "cache") }

// SnapshotDir returns the snapshot directory.
func (l Layout) SnapshotDir() string { return filepath.Join(l.StateDir(), "snapshots") }

// StagingDir returns the staging directory for a transaction.
func (l Layout) StagingDir(txn string) string {
	return filepath.Join(l.StateDir(), "staging", txn)
}

// LockFile returns the path of the global transaction lock.
func (l Layout) LockFile() string { return filepath.Join(l.StateDir(), "lock") }
