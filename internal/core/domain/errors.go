package domain

import "go.trai.ch/zerr"

var (
	// ErrInvalidVersion is returned when a version string cannot be parsed.
	ErrInvalidVersion = zerr.New("invalid version")

	// ErrInvalidConstraint is returned when a dependency constraint cannot be parsed.
	ErrInvalidConstraint = zerr.New("invalid version constraint")

	// ErrConfigRead is returned when a configuration file cannot be read.
	ErrConfigRead = zerr.New("failed to read config file")

	// ErrConfigParse is returned when a configuration file cannot be parsed.
	ErrConfigParse = zerr.New("failed to parse config file")

	// ErrRepoMetadata is returned when a repository index is malformed.
	ErrRepoMetadata = zerr.New("malformed repository metadata")

	// ErrPackageNotFound is returned when no candidate satisfies a requested package.
	ErrPackageNotFound = zerr.New("package not found")

	// ErrResolveUnsat is returned when the dependency problem has no solution.
	ErrResolveUnsat = zerr.New("dependencies cannot be satisfied")

	// ErrPinViolation is returned when a transaction would violate a hold pin.
	ErrPinViolation = zerr.New("held package cannot be changed without --force")

	// ErrProtectedViolation is returned when a transaction would remove a protected package.
	ErrProtectedViolation = zerr.New("protected package cannot be removed without --force")

	// ErrFetchNetwork is returned when a blob download fails after retries.
	ErrFetchNetwork = zerr.New("blob download failed")

	// ErrFetchChecksum is returned when a downloaded blob does not match its expected digest.
	ErrFetchChecksum = zerr.New("blob checksum mismatch")

	// ErrFetchTimeout is returned when a blob download exceeds its deadline.
	ErrFetchTimeout = zerr.New("blob download timed out")

	// ErrSignatureMissing is returned when a required detached signature is absent.
	ErrSignatureMissing = zerr.New("missing package signature")

	// ErrSignatureInvalid is returned when signature verification fails.
	ErrSignatureInvalid = zerr.New("signature verification failed")

	// ErrNoTrustedKeys is returned when no trusted public keys are available for verification.
	ErrNoTrustedKeys = zerr.New("no trusted signing keys configured")

	// ErrArchiveFormat is returned when a package archive is not a valid zstd tarball.
	ErrArchiveFormat = zerr.New("invalid package archive")

	// ErrArchivePathEscape is returned when an archive entry would escape the staging root.
	ErrArchivePathEscape = zerr.New("archive entry escapes extraction root")

	// ErrArchiveIO is returned when extraction fails with a filesystem error.
	ErrArchiveIO = zerr.New("archive extraction failed")

	// ErrManifestMismatch is returned when extracted content disagrees with the manifest.
	ErrManifestMismatch = zerr.New("manifest mismatch")

	// ErrFileConflict is returned when an on-disk file that is unowned or owned by an
	// unrelated package collides with a manifest path.
	ErrFileConflict = zerr.New("file conflict")

	// ErrArchIncompatible is returned when a package targets a different architecture.
	ErrArchIncompatible = zerr.New("incompatible architecture")

	// ErrDB is returned when a state database operation fails.
	ErrDB = zerr.New("state database operation failed")

	// ErrSnapshot is returned when snapshot creation or restoration fails.
	ErrSnapshot = zerr.New("snapshot operation failed")

	// ErrSnapshotNotFound is returned when a referenced snapshot does not exist.
	ErrSnapshotNotFound = zerr.New("snapshot not found")

	// ErrHookParse is returned when a .hook file is malformed.
	ErrHookParse = zerr.New("invalid hook file")

	// ErrHookCycle is returned when hook Depends form a cycle.
	ErrHookCycle = zerr.New("cyclic hook dependencies")

	// ErrHookExec is returned when a hook command exits nonzero with AbortOnFail.
	ErrHookExec = zerr.New("hook execution failed")

	// ErrLockHeld is returned when the transaction lock is held and waiting is disabled.
	ErrLockHeld = zerr.New("another transaction is running")

	// ErrInterrupted is returned when a transaction is cancelled by a signal.
	ErrInterrupted = zerr.New("transaction interrupted")

	// ErrRollbackIncomplete is returned when restoring a snapshot fails partway.
	// State may require manual intervention.
	ErrRollbackIncomplete = zerr.New("rollback incomplete")

	// ErrNothingToDo is returned when a request resolves to an empty plan.
	ErrNothingToDo = zerr.New("nothing to do")

	// ErrNotInstalled is returned when an operation references a package that is not installed.
	ErrNotInstalled = zerr.New("package not installed")
)
