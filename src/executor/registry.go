package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/swaggest/jsonschema-go"

	"github.com/scaffoldhq/scaffold/src/aisdk"
	"github.com/scaffoldhq/scaffold/src/capability"
	"github.com/scaffoldhq/scaffold/src/permission"
	"github.com/scaffoldhq/scaffold/src/session"
	"github.com/scaffoldhq/scaffold/src/storage"
)

// Env is the dispatch context handed to function handlers. It carries the
// session under its turn lock plus the services a handler may touch.
type Env struct {
	Session *session.Session
	Gate    *permission.Gate
	Caps    *capability.Service
	Store   *storage.DB
	FS      afero.Fs
	Logger  *slog.Logger

	// Output forwards command output lines to the event sink.
	Output func(stepIndex int, stream, line string)
}

// Result is the structured outcome of a function call. It is serialized
// into the function-result message fed back to the model, for failures as
// much as for successes.
type Result struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Failure builds an error-shaped result. These come back as content, never
// as Go errors: the model is expected to react to them.
func Failure(status, msg string) *Result {
	return &Result{Status: status, Error: msg}
}

// Marshal renders the result for the function-result message.
func (r *Result) Marshal() json.RawMessage {
	data, err := json.Marshal(r)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"status":"internal_error","error":%q}`, err.Error()))
	}
	return data
}

// HandlerFunc executes one function call against the environment.
type HandlerFunc func(ctx context.Context, env *Env, args json.RawMessage) (*Result, error)

// Function is one entry of the closed registry.
type Function struct {
	Name        string
	Description string
	// Effect declares the side-effect category the dispatch loop gates on.
	Effect     permission.Category
	Parameters *jsonschema.Schema
	Handler    HandlerFunc
}

// Registry is the closed set of callable functions. Dispatch of a name not
// registered here is a validation failure, not a lookup miss.
type Registry struct {
	functions map[string]*Function
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{functions: map[string]*Function{}}
}

// Register adds a function. Duplicate names are a programming error.
func (r *Registry) Register(fn *Function) error {
	if fn.Name == "" {
		return fmt.Errorf("function name is required")
	}
	if _, exists := r.functions[fn.Name]; exists {
		return fmt.Errorf("function %q already registered", fn.Name)
	}
	r.functions[fn.Name] = fn
	r.order = append(r.order, fn.Name)
	return nil
}

// Get looks up a function by name.
func (r *Registry) Get(name string) (*Function, bool) {
	fn, ok := r.functions[name]
	return fn, ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ChatTools renders the registry as function declarations for the model.
func (r *Registry) ChatTools() []*aisdk.ChatTool {
	var tools []*aisdk.ChatTool
	for _, name := range r.order {
		fn := r.functions[name]
		tools = append(tools, &aisdk.ChatTool{
			Type: "function",
			Function: aisdk.ChatToolFunction{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
			},
		})
	}
	return tools
}

// typedHandler wraps a handler taking decoded arguments. Malformed
// arguments become a structured validation failure.
func typedHandler[TArgs any](handle func(ctx context.Context, env *Env, args TArgs) (*Result, error)) HandlerFunc {
	return func(ctx context.Context, env *Env, raw json.RawMessage) (*Result, error) {
		var args TArgs
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return Failure("invalid_arguments", fmt.Sprintf("failed to parse arguments: %v", err)), nil
			}
		}
		return handle(ctx, env, args)
	}
}

// mustSchema reflects a schema from an argument struct.
func mustSchema(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{}
	schema, err := reflector.Reflect(v)
	if err != nil {
		panic(fmt.Sprintf("failed to generate schema: %v", err))
	}
	return &schema
}
