package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	bpErrors "github.com/jgarizk/brainpro/internal/errors"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dbQuestion = `{"questions":[{"question":"Which db?","header":"Database","options":[{"label":"sqlite"},{"label":"postgres"}]}]}`

func TestResumeTurnApprovesFromFlag(t *testing.T) {
	rc := testRuntime(t,
		callTool("c1", "Glob", `{"pattern":"*.txt","path":"`+t.TempDir()+`"}`),
		reply("nothing there"),
	)
	id := suspend(t, rc, "list text files")

	var out bytes.Buffer
	require.NoError(t, resumeTurn(context.Background(), rc, id, resumeFlags{approve: true}, strings.NewReader(""), &out))
	assert.Contains(t, out.String(), "tool uses]")

	_, err := rc.Turns.Get(context.Background(), id)
	assert.True(t, bpErrors.IsCategory(err, bpErrors.ErrTurnNotFound), "resumed turn is consumed")
}

func TestResumeTurnPromptsWhenNoFlagGiven(t *testing.T) {
	rc := testRuntime(t,
		callTool("c1", "Bash", `{"command":"rm -rf build"}`),
		reply("ok, leaving it"),
	)
	id := suspend(t, rc, "clean up")

	var out bytes.Buffer
	require.NoError(t, resumeTurn(context.Background(), rc, id, resumeFlags{}, strings.NewReader("n\n"), &out))
	assert.Contains(t, out.String(), "Allow Bash?")
	assert.Contains(t, out.String(), "tool uses]")
}

func TestResumeTurnLeavesTurnWhenUndecided(t *testing.T) {
	rc := testRuntime(t, callTool("c1", "Bash", `{"command":"make"}`))
	id := suspend(t, rc, "build it")

	var out bytes.Buffer
	err := resumeTurn(context.Background(), rc, id, resumeFlags{}, strings.NewReader(""), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "left suspended")

	state, err := rc.Turns.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Bash", state.PendingAction.ToolName)
}

func TestResumeTurnAnswersQuestions(t *testing.T) {
	rc := testRuntime(t,
		callTool("q1", "AskUserQuestion", dbQuestion),
		reply("postgres it is"),
	)
	id := suspend(t, rc, "set up storage")

	var out bytes.Buffer
	require.NoError(t, resumeTurn(context.Background(), rc, id, resumeFlags{}, strings.NewReader("2\n"), &out))
	assert.Contains(t, out.String(), "Which db?")
	assert.Contains(t, out.String(), "tool uses]")
}

func TestResumeTurnAnswersFromFlag(t *testing.T) {
	rc := testRuntime(t,
		callTool("q1", "AskUserQuestion", dbQuestion),
		reply("sqlite it is"),
	)
	id := suspend(t, rc, "set up storage")

	var out bytes.Buffer
	flags := resumeFlags{answers: `{"Which db?":"sqlite"}`}
	require.NoError(t, resumeTurn(context.Background(), rc, id, flags, strings.NewReader(""), &out))
	assert.NotContains(t, out.String(), "choice:")
}

func TestResumeTurnUnknownID(t *testing.T) {
	rc := testRuntime(t)

	err := resumeTurn(context.Background(), rc, "missing", resumeFlags{approve: true}, strings.NewReader(""), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found or expired")
}

func TestResumeFlagsValidation(t *testing.T) {
	newCmd := func(args ...string) *cobra.Command {
		cmd := &cobra.Command{Use: "resume"}
		cmd.Flags().Bool("approve", false, "")
		cmd.Flags().Bool("deny", false, "")
		cmd.Flags().String("answers", "", "")
		require.NoError(t, cmd.Flags().Parse(args))
		return cmd
	}

	_, err := resumeFlagsFrom(newCmd("--approve", "--deny"))
	assert.Error(t, err)

	_, err = resumeFlagsFrom(newCmd("--answers", "{not json"))
	assert.Error(t, err)

	f, err := resumeFlagsFrom(newCmd("--deny"))
	require.NoError(t, err)
	assert.True(t, f.deny)
	assert.False(t, f.approve)
}
