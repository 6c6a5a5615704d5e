package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jgarizk/brainpro/internal/concurrency"
	bpErrors "github.com/jgarizk/brainpro/internal/errors"
	"github.com/jgarizk/brainpro/internal/logger"
)

// Result is one dispatched call. OK is false when Output carries an "error"
// object, whether the tool failed or reported the failure itself.
type Result struct {
	Output     json.RawMessage `json:"output"`
	OK         bool            `json:"ok"`
	DurationMs int64           `json:"duration_ms"`
}

// Dispatcher runs registered tools. It never returns Go errors to the turn
// engine: every failure becomes an error payload the model can read.
type Dispatcher struct {
	registry *Registry
	mapper   bpErrors.ErrorMapper
}

func NewDispatcher(registry *Registry) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Dispatcher{
		registry: registry,
		mapper:   bpErrors.NewDefaultErrorMapper(),
	}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

func (d *Dispatcher) Has(name string) bool {
	_, ok := d.registry.Get(name)
	return ok
}

func (d *Dispatcher) Execute(ctx context.Context, name string, args json.RawMessage) json.RawMessage {
	return d.ExecuteWithStats(ctx, name, args).Output
}

func (d *Dispatcher) ExecuteWithStats(ctx context.Context, name string, args json.RawMessage) Result {
	log := logger.FromContext(ctx)
	start := time.Now()

	output := d.run(ctx, name, args)
	res := Result{
		Output:     output,
		OK:         !IsErrorResult(output),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if res.OK {
		log.Debug("Tool executed", "tool", name, "duration_ms", res.DurationMs)
	} else {
		log.Warn("Tool returned error", "tool", name, "duration_ms", res.DurationMs)
	}
	return res
}

func (d *Dispatcher) run(ctx context.Context, name string, args json.RawMessage) json.RawMessage {
	t, ok := d.registry.Get(name)
	if !ok {
		return d.errorResult(bpErrors.NotFound(fmt.Sprintf("unknown tool: %s", name)))
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	if err := ValidateInput(t.Parameters(), args); err != nil {
		return d.errorResult(bpErrors.InvalidInput(err.Error()))
	}

	var (
		out     json.RawMessage
		execErr error
	)
	panicked := concurrency.SafeCall(func() {
		out, execErr = t.Execute(ctx, args)
	}, func(r interface{}) {
		execErr = bpErrors.Internal(fmt.Sprintf("tool %s panicked: %v", name, r))
	})
	if panicked || execErr != nil {
		return d.errorResult(execErr)
	}
	if len(out) == 0 || !json.Valid(out) {
		return ErrorPayload("internal", fmt.Sprintf("tool %s returned invalid JSON", name))
	}
	return out
}

func (d *Dispatcher) errorResult(err error) json.RawMessage {
	return ErrorPayload(d.mapper.Code(err), err.Error())
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorPayload builds {"error":{"code":...,"message":...}}.
func ErrorPayload(code, message string) json.RawMessage {
	out, _ := json.Marshal(map[string]errorBody{
		"error": {Code: code, Message: message},
	})
	return out
}

// ErrorResult codes err with the default mapper.
func ErrorResult(err error) json.RawMessage {
	return ErrorPayload(bpErrors.NewDefaultErrorMapper().Code(err), err.Error())
}

// IsErrorResult reports whether output is a JSON object with an "error" key.
func IsErrorResult(output json.RawMessage) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(output, &obj); err != nil {
		return false
	}
	_, has := obj["error"]
	return has
}
