package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePattern(t *testing.T) {
	p, err := ParsePattern("Bash(rm -rf:*)")
	require.NoError(t, err)
	assert.Equal(t, Pattern{Tool: "Bash", ArgSpec: "rm -rf:*", HasArg: true}, p)
	assert.Equal(t, "Bash(rm -rf:*)", p.String())

	p, err = ParsePattern(" Read ")
	require.NoError(t, err)
	assert.Equal(t, Pattern{Tool: "Read"}, p)

	for _, bad := range []string{"", "Bash(ls", "Bash)", "(ls)"} {
		_, err := ParsePattern(bad)
		assert.Error(t, err, bad)
	}
}

func TestPatternMatches(t *testing.T) {
	cases := []struct {
		pattern string
		tool    string
		arg     string
		hasArg  bool
		want    bool
	}{
		{"Read", "Read", "", false, true},
		{"Read", "Write", "", false, false},
		{"*", "Anything", "", false, true},
		{"Bash(rm:*)", "Bash", "rm -rf /", true, true},
		{"Bash(rm:*)", "Bash", "ls", true, false},
		{"Bash(git *)", "Bash", "git status", true, true},
		{"Write(*.go)", "Write", "cmd/main.go", true, true},
		{"Write(*.go)", "Write", "README.md", true, false},
		{"Bash(make)", "Bash", "make", true, true},
		{"Bash(make)", "Bash", "make test", true, false},
		{"Bash(*)", "Bash", "", true, true},
		{"Bash(rm:*)", "Bash", "", false, false},
		{"*(secrets/*)", "Read", "secrets/key", true, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MatchTool(tc.pattern, tc.tool, tc.arg, tc.hasArg), "%s vs %s(%s)", tc.pattern, tc.tool, tc.arg)
	}
}

func TestExtractArg(t *testing.T) {
	cases := []struct {
		tool   string
		args   string
		want   string
		wantOK bool
	}{
		{"Bash", `{"command":"ls -la"}`, "ls -la", true},
		{"Read", `{"path":"a.go"}`, "a.go", true},
		{"Edit", `{"file_path":"b.go"}`, "b.go", true},
		{"Write", `{"path":"a.go","file_path":"b.go"}`, "a.go", true},
		{"Grep", `{"pattern":"TODO"}`, "TODO", true},
		{"Glob", `{"pattern":"**/*.go"}`, "**/*.go", true},
		{"Task", `{"prompt":"x"}`, "", false},
		{"Bash", `{}`, "", false},
		{"Bash", `not json`, "", false},
		{"Bash", ``, "", false},
	}
	for _, tc := range cases {
		got, ok := ExtractArg(tc.tool, json.RawMessage(tc.args))
		assert.Equal(t, tc.wantOK, ok, "%s %s", tc.tool, tc.args)
		assert.Equal(t, tc.want, got, "%s %s", tc.tool, tc.args)
	}
}
