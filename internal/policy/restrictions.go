package policy

func OpenAINoApplyPatch() ModelRestriction {
	return ModelRestriction{
		ModelPattern: "gpt-*",
		DeniedTools:  []string{"ApplyPatch"},
		Reason:       "OpenAI models do not support ApplyPatch tool",
	}
}

func ClaudeLimitedApplyPatch() ModelRestriction {
	return ModelRestriction{
		ModelPattern: "claude-*",
		DeniedTools:  []string{"ApplyPatch"},
		Reason:       "Claude models have limited ApplyPatch support",
	}
}

func LocalNoWeb() ModelRestriction {
	return ModelRestriction{
		ModelPattern: "llama*",
		DeniedTools:  []string{"WebFetch", "WebSearch"},
		Reason:       "Local models should not access external URLs",
	}
}

// BuiltinRestrictions are installed at the global level unless disabled in
// config.
func BuiltinRestrictions() []ModelRestriction {
	return []ModelRestriction{OpenAINoApplyPatch(), LocalNoWeb()}
}

// namedRestrictions lets policy files reference restrictions by name.
var namedRestrictions = map[string]func() ModelRestriction{
	"openai_no_apply_patch":      OpenAINoApplyPatch,
	"claude_limited_apply_patch": ClaudeLimitedApplyPatch,
	"local_no_web":               LocalNoWeb,
}
