package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

// Handler runs a local tool. The returned patch may be nil; an error is
// captured by the dispatcher and reported as a degraded ToolResult.
type Handler func(ctx context.Context, args map[string]any) (payload any, patch contractx.MemoryPatch, err error)

// Definition is one registered tool. Immutable after registration.
type Definition struct {
	Name    string
	Desc    string
	Kind    contractx.ToolKind
	Params  map[string]*schema.ParameterInfo
	Handler Handler
	// Target names the gateway target backing a gateway-kind tool.
	Target string
}

// Info renders the definition in the shape the planner consumes.
func (d Definition) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        d.Name,
		Desc:        d.Desc,
		ParamsOneOf: schema.NewParamsOneOfByParams(d.Params),
	}
}

// Registry holds the static tool table. Registration happens at bootstrap;
// the map is copied on register so concurrent readers never race a write.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Definition)}
}

func (r *Registry) Register(def Definition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return fmt.Errorf("%w: tool name is empty", contractx.ErrValidation)
	}
	if def.Kind == contractx.ToolKindLocal && def.Handler == nil {
		return fmt.Errorf("%w: local tool %s has no handler", contractx.ErrValidation, name)
	}
	if def.Kind == contractx.ToolKindGateway && strings.TrimSpace(def.Target) == "" {
		return fmt.Errorf("%w: gateway tool %s has no target", contractx.ErrValidation, name)
	}
	def.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %s", contractx.ErrDuplicateTool, name)
	}
	next := make(map[string]Definition, len(r.byName)+1)
	for k, v := range r.byName {
		next[k] = v
	}
	next[name] = def
	r.byName = next
	return nil
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[name]
	return def, ok
}

// Infos lists all tool schemas in name order for the planner.
func (r *Registry) Infos() []*schema.ToolInfo {
	r.mu.RLock()
	defs := r.byName
	r.mu.RUnlock()

	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, defs[name].Info())
	}
	return infos
}
