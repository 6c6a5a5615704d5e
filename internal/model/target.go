package model

import (
	"fmt"
	"strings"
)

// Target names a model on a configured backend, written "model@backend".
type Target struct {
	Model   string `json:"model"`
	Backend string `json:"backend"`
}

// ParseTarget splits on the last '@' so model names may contain '@'.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	i := strings.LastIndexByte(s, '@')
	if i <= 0 || i == len(s)-1 {
		return Target{}, fmt.Errorf("invalid target %q: expected model@backend", s)
	}
	return Target{Model: s[:i], Backend: s[i+1:]}, nil
}

func (t Target) String() string {
	if t.IsZero() {
		return ""
	}
	return t.Model + "@" + t.Backend
}

func (t Target) IsZero() bool {
	return t.Model == "" && t.Backend == ""
}
