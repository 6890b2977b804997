package domain

// HookWhen is the transaction phase a hook runs in.
type HookWhen string

const (
	// PreTransaction hooks run after planning, before any extraction.
	PreTransaction HookWhen = "PreTransaction"

	// PostTransaction hooks run after all extractions and DB commits.
	PostTransaction HookWhen = "PostTransaction"
)

// TriggerType selects what a hook trigger matches against.
type TriggerType string

const (
	// TriggerPackage matches package names in the operation set.
	TriggerPackage TriggerType = "Package"

	// TriggerPath matches manifest paths affected by the transaction.
	TriggerPath TriggerType = "Path"
)

// HookTrigger is one [Trigger] section of a .hook file.
type HookTrigger struct {
	Type       TriggerType
	Operations []OpKind
	Targets    []string
}

// Hook is a parsed .hook file.
type Hook struct {
	// Name is the file name without the .hook extension.
	Name string

	// Path is the absolute source file, admin overrides shadowing system
	// hooks of the same name.
	Path string

	Triggers []HookTrigger

	When         HookWhen
	Description  string
	Depends      []string
	Exec         []string
	AbortOnFail  bool
	NeedsTargets bool
}

// HookMatch pairs a hook with the targets that triggered it this
// transaction.
type HookMatch struct {
	Hook    Hook
	Targets []string
}
