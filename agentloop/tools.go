package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/tetsuocode/tetsuocode/unifiedllm"
)

// ToolContext carries what a handler may touch.
type ToolContext struct {
	Env            ExecutionEnvironment
	Edits          *EditStore
	CommandTimeout time.Duration
	GrepTimeout    time.Duration
	Logger         *slog.Logger
}

// ToolExecutor runs a tool. The returned value is encoded as the JSON
// payload; a returned error becomes {"error": message}.
type ToolExecutor func(ctx context.Context, args json.RawMessage, tc *ToolContext) (interface{}, error)

// RegisteredTool pairs a definition with its executor.
type RegisteredTool struct {
	Definition unifiedllm.ToolDefinition
	Executor   ToolExecutor
}

// ToolRegistry is the closed set of tools offered to the model.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*RegisteredTool
	order []string
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*RegisteredTool)}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Definition.Name
	if _, ok := r.tools[name]; !ok {
		r.order = append(r.order, name)
	}
	r.tools[name] = &tool
}

// Get returns a registered tool by name, or nil.
func (r *ToolRegistry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns tool definitions in registration order.
func (r *ToolRegistry) Definitions() []unifiedllm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]unifiedllm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Execute runs the named tool and always returns a JSON payload. The error
// return classifies what went wrong for logging; it is already reflected in
// the payload.
func (r *ToolRegistry) Execute(ctx context.Context, name, rawArgs string, tc *ToolContext) (payload string, err error) {
	tool := r.Get(name)
	if tool == nil {
		err = &UnknownToolError{Name: name}
		return errorPayload(err), err
	}

	args, argErr := normalizeArguments(name, rawArgs)
	if argErr != nil && tc.Logger != nil {
		tc.Logger.Warn("tool arguments replaced with {}", "tool", name, "error", argErr)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = &ToolExecutionError{Tool: name, Cause: fmt.Errorf("panic: %v", rec)}
			payload = errorPayload(err)
		}
	}()

	result, err := tool.Executor(ctx, args, tc)
	if err != nil {
		var policyErr *ToolPolicyError
		if errors.As(err, &policyErr) {
			if policyErr.Tool == "" {
				policyErr.Tool = name
			}
		} else if !errors.Is(err, context.Canceled) {
			err = &ToolExecutionError{Tool: name, Cause: err}
		}
		return errorPayload(err), err
	}

	data, merr := json.Marshal(result)
	if merr != nil {
		err = &ToolExecutionError{Tool: name, Cause: merr}
		return errorPayload(err), err
	}
	return string(data), argErr
}

// normalizeArguments returns args when they form a JSON object, and "{}"
// with a *ToolArgumentError otherwise.
func normalizeArguments(tool, raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage("{}"), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return json.RawMessage("{}"), &ToolArgumentError{Tool: tool, Raw: raw, Cause: err}
	}
	if obj == nil {
		return json.RawMessage("{}"), &ToolArgumentError{Tool: tool, Raw: raw, Cause: errors.New("arguments are not an object")}
	}
	return json.RawMessage(trimmed), nil
}

func errorPayload(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}

// decodeArgs unmarshals tool arguments into a typed input.
func decodeArgs[T any](args json.RawMessage) (T, error) {
	var in T
	if err := json.Unmarshal(args, &in); err != nil {
		return in, fmt.Errorf("invalid arguments: %v", err)
	}
	return in, nil
}

// schemaFor reflects the JSON schema of an input struct.
func schemaFor[T any]() map[string]interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("agentloop: schema for %T: %v", v, err))
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("agentloop: schema for %T: %v", v, err))
	}
	delete(m, "$schema")
	delete(m, "$id")
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]interface{}{}
	}
	return m
}
