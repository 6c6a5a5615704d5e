package policy

// editTools are auto-approved under acceptEdits.
var editTools = map[string]bool{
	"Write":      true,
	"Edit":       true,
	"ApplyPatch": true,
}

// ApplyMode folds the permission mode into an Ask verdict. Deny and Allow
// are never changed, so a deny rule still wins under bypassPermissions.
func ApplyMode(v Verdict, mode PermissionMode, tool string) Verdict {
	if v.Decision != DecisionAsk {
		return v
	}
	switch mode {
	case ModeBypassPermissions:
		v.Decision = DecisionAllow
		if !v.Matched {
			v.Rule = "mode: " + string(mode)
		}
	case ModeAcceptEdits:
		if editTools[tool] {
			v.Decision = DecisionAllow
			if !v.Matched {
				v.Rule = "mode: " + string(mode)
			}
		}
	}
	return v
}
