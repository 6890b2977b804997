package domain

import "time"

// Snapshot describes a pre-transaction filesystem capture.
type Snapshot struct {
	ID        int64
	Timestamp time.Time
	Tag       string
	Archive   string
	Paths     []string
}

// HistoryKind classifies a history entry.
type HistoryKind string

const (
	// HistoryInstall records a fresh install.
	HistoryInstall HistoryKind = "install"

	// HistoryUpgrade records a version change.
	HistoryUpgrade HistoryKind = "upgrade"

	// HistoryRemove records an uninstall.
	HistoryRemove HistoryKind = "remove"

	// HistoryRollback records a snapshot restoration.
	HistoryRollback HistoryKind = "rollback"

	// HistoryAbort records a failed transaction.
	HistoryAbort HistoryKind = "abort"
)

// HistoryEntry is one row of the transaction journal.
type HistoryEntry struct {
	ID         int64
	Timestamp  time.Time
	Kind       HistoryKind
	Package    string
	OldVersion string
	NewVersion string
	SnapshotID int64
	Details    []byte
}

// PinKind classifies a pin.
type PinKind string

const (
	// PinHold freezes a package: no upgrade or removal without force.
	PinHold PinKind = "hold"

	// PinPrefer steers the resolver toward versions matching a constraint
	// without excluding others.
	PinPrefer PinKind = "prefer"
)

// Pins is the full pin state for a target root.
type Pins struct {
	Hold   map[string]struct{}
	Prefer map[string]Constraint
}

// NewPins returns an empty pin set.
func NewPins() Pins {
	return Pins{Hold: map[string]struct{}{}, Prefer: map[string]Constraint{}}
}

// Held reports whether the named package is frozen.
func (p Pins) Held(name string) bool {
	_, ok := p.Hold[name]
	return ok
}

// Preference returns the prefer constraint for a name, if any.
func (p Pins) Preference(name string) (Constraint, bool) {
	c, ok := p.Prefer[name]
	return c, ok
}

// Protected is the set of packages whose removal requires force.
type Protected map[string]struct{}

// Contains reports whether the named package is protected.
func (p Protected) Contains(name string) bool {
	_, ok := p[name]
	return ok
}
