package domain

// EntryKind is the filesystem type of a manifest entry.
type EntryKind string

const (
	// EntryFile is a regular file.
	EntryFile EntryKind = "file"

	// EntryDir is a directory.
	EntryDir EntryKind = "directory"

	// EntrySymlink is a symbolic link.
	EntrySymlink EntryKind = "symlink"
)

// ManifestEntry describes one path owned by a package, relative to the
// target root.
type ManifestEntry struct {
	Path       string    `json:"path"`
	Kind       EntryKind `json:"kind"`
	Mode       uint32    `json:"mode"`
	UID        int       `json:"uid"`
	GID        int       `json:"gid"`
	Size       int64     `json:"size,omitempty"`
	SHA256     string    `json:"sha256,omitempty"`
	LinkTarget string    `json:"link_target,omitempty"`
	Keep       bool      `json:"keep,omitempty"`
}

// Manifest is the ordered list of paths a package owns.
type Manifest struct {
	Entries []ManifestEntry `json:"entries"`
}

// Paths returns all entry paths in manifest order.
func (m Manifest) Paths() []string {
	out := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		out[i] = e.Path
	}
	return out
}

// Lookup returns the entry for the given path, if present.
func (m Manifest) Lookup(path string) (ManifestEntry, bool) {
	for _, e := range m.Entries {
		if e.Path == path {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// VerifyStatus classifies the on-disk state of one manifest entry.
type VerifyStatus string

const (
	// VerifyOK means the path matches the manifest.
	VerifyOK VerifyStatus = "ok"

	// VerifyMissing means the path does not exist.
	VerifyMissing VerifyStatus = "missing"

	// VerifySizeMismatch means the size differs from the manifest.
	VerifySizeMismatch VerifyStatus = "size-mismatch"

	// VerifyHashMismatch means the sha256 differs from the manifest.
	VerifyHashMismatch VerifyStatus = "hash-mismatch"
)

// VerifyResult is one finding from an installed-file verification run.
type VerifyResult struct {
	Package string
	Path    string
	Status  VerifyStatus
}
