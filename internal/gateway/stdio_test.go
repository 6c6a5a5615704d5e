package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, out *bytes.Buffer) []AgentEvent {
	t.Helper()
	var events []AgentEvent
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var ev AgentEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev), scanner.Text())
		events = append(events, ev)
	}
	return events
}

func TestStdioServerAnswersEachLine(t *testing.T) {
	h := newHarness(t, testTarget)
	h.client.reply("hi back")

	in := strings.NewReader(strings.Join([]string{
		`{"id":"p1","method":"ping"}`,
		``,
		`{"id":"r1","method":"run_turn","messages":[{"role":"user","content":"hi"}]}`,
	}, "\n"))
	var out bytes.Buffer

	require.NoError(t, NewStdioServer(h.controller, in, &out).Serve(context.Background()))

	events := decodeLines(t, &out)
	byID := map[string][]EventType{}
	for _, ev := range events {
		byID[ev.ID] = append(byID[ev.ID], ev.Type)
	}
	assert.Equal(t, []EventType{EventPong}, byID["p1"])
	assert.Equal(t, []EventType{EventContent, EventDone}, byID["r1"])
}

func TestStdioServerRejectsInvalidJSON(t *testing.T) {
	h := newHarness(t, testTarget)
	var out bytes.Buffer

	require.NoError(t, NewStdioServer(h.controller, strings.NewReader("{not json\n"), &out).Serve(context.Background()))

	events := decodeLines(t, &out)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, CodeInvalidRequest, events[0].Error.Code)
}
