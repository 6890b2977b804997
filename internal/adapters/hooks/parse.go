package hooks

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/zerr"

	"github.com/luminositylinux/lpm/internal/core/domain"
)

// parseHook reads one .hook file. The grammar is INI-style: one or more
// [Trigger] sections followed by exactly one [Action]. Unknown keys and
// duplicate non-repeatable keys are errors.
func parseHook(path string) (domain.Hook, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Hook{}, zerr.Wrap(err, domain.ErrHookParse.Error())
	}
	defer f.Close()

	hook := domain.Hook{
		Name: strings.TrimSuffix(filepath.Base(path), ".hook"),
		Path: path,
	}

	const (
		sectionNone = iota
		sectionTrigger
		sectionAction
	)
	section := sectionNone
	var trigger *domain.HookTrigger
	seen := map[string]bool{}
	actionDone := false

	fail := func(line int, reason string) (domain.Hook, error) {
		return domain.Hook{}, zerr.With(zerr.With(zerr.With(domain.ErrHookParse, "file", path), "line", line), "reason", reason)
	}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			if trigger != nil {
				hook.Triggers = append(hook.Triggers, *trigger)
				trigger = nil
			}
			switch line {
			case "[Trigger]":
				if actionDone {
					return fail(lineNo, "[Trigger] after [Action]")
				}
				section = sectionTrigger
				trigger = &domain.HookTrigger{}
			case "[Action]":
				if actionDone {
					return fail(lineNo, "duplicate [Action]")
				}
				section = sectionAction
				actionDone = true
				seen = map[string]bool{}
			default:
				return fail(lineNo, "unknown section "+line)
			}
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fail(lineNo, "expected key = value")
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch section {
		case sectionNone:
			return fail(lineNo, "key outside a section")

		case sectionTrigger:
			switch key {
			case "Type":
				if trigger.Type != "" {
					return fail(lineNo, "duplicate Type")
				}
				switch domain.TriggerType(value) {
				case domain.TriggerPackage, domain.TriggerPath:
					trigger.Type = domain.TriggerType(value)
				default:
					return fail(lineNo, "unknown Type "+value)
				}
			case "Operation":
				kind, ok := opKinds[value]
				if !ok {
					return fail(lineNo, "unknown Operation "+value)
				}
				trigger.Operations = append(trigger.Operations, kind)
			case "Target":
				if value == "" {
					return fail(lineNo, "empty Target")
				}
				trigger.Targets = append(trigger.Targets, value)
			default:
				return fail(lineNo, "unknown key "+key)
			}

		case sectionAction:
			if key != "Target" && key != "Operation" && seen[key] {
				return fail(lineNo, "duplicate "+key)
			}
			seen[key] = true
			switch key {
			case "When":
				switch domain.HookWhen(value) {
				case domain.PreTransaction, domain.PostTransaction:
					hook.When = domain.HookWhen(value)
				default:
					return fail(lineNo, "unknown When "+value)
				}
			case "Description":
				hook.Description = value
			case "Depends":
				hook.Depends = strings.Fields(value)
			case "Exec":
				hook.Exec = strings.Fields(value)
				if len(hook.Exec) == 0 {
					return fail(lineNo, "empty Exec")
				}
			case "AbortOnFail":
				b, ok := parseBool(value)
				if !ok {
					return fail(lineNo, "invalid AbortOnFail "+value)
				}
				hook.AbortOnFail = b
			case "NeedsTargets":
				b, ok := parseBool(value)
				if !ok {
					return fail(lineNo, "invalid NeedsTargets "+value)
				}
				hook.NeedsTargets = b
			default:
				return fail(lineNo, "unknown key "+key)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.Hook{}, zerr.Wrap(err, domain.ErrHookParse.Error())
	}

	if trigger != nil {
		hook.Triggers = append(hook.Triggers, *trigger)
	}
	if len(hook.Triggers) == 0 {
		return fail(lineNo, "missing [Trigger]")
	}
	for _, tr := range hook.Triggers {
		if tr.Type == "" {
			return fail(lineNo, "trigger missing Type")
		}
		if len(tr.Operations) == 0 {
			return fail(lineNo, "trigger missing Operation")
		}
		if len(tr.Targets) == 0 {
			return fail(lineNo, "trigger missing Target")
		}
	}
	if !actionDone {
		return fail(lineNo, "missing [Action]")
	}
	if hook.When == "" {
		return fail(lineNo, "action missing When")
	}
	if len(hook.Exec) == 0 {
		return fail(lineNo, "action missing Exec")
	}
	return hook, nil
}

var opKinds = map[string]domain.OpKind{
	"Install": domain.OpInstall,
	"Upgrade": domain.OpUpgrade,
	"Remove":  domain.OpRemove,
}

func parseBool(value string) (b, ok bool) {
	switch strings.ToLower(value) {
	case "yes", "true", "1":
		return true, true
	case "no", "false", "0":
		return false, true
	}
	return false, false
}
