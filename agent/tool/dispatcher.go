package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/caretaker-labs/caretaker/agent/contract"
)

// GatewayInvoker forwards gateway-kind tool calls through the authenticated
// channel. The payload is the validated argument map.
type GatewayInvoker interface {
	Invoke(ctx context.Context, target string, payload map[string]any) (any, error)
}

// Dispatcher resolves calls against the registry and executes them. Every
// failure mode lands inside the returned ToolResult so a misbehaving tool
// cannot abort sibling calls in the same turn.
type Dispatcher struct {
	registry *Registry
	gateway  GatewayInvoker
	now      func() time.Time
}

func NewDispatcher(registry *Registry, gateway GatewayInvoker) (*Dispatcher, error) {
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}
	return &Dispatcher{
		registry: registry,
		gateway:  gateway,
		now:      time.Now,
	}, nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, call contractx.ToolCall) contractx.ToolResult {
	def, ok := d.registry.Lookup(call.Tool)
	if !ok {
		return d.failure(call.Tool, fmt.Errorf("%w: %s", contractx.ErrToolNotFound, call.Tool))
	}

	if err := validateArgs(def.Params, call.Args); err != nil {
		return d.failure(call.Tool, err)
	}

	switch def.Kind {
	case contractx.ToolKindGateway:
		return d.dispatchGateway(ctx, def, call)
	default:
		return d.dispatchLocal(ctx, def, call)
	}
}

func (d *Dispatcher) dispatchLocal(ctx context.Context, def Definition, call contractx.ToolCall) (res contractx.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("tool", def.Name).
				Any("panic", r).
				Msg("tool handler panicked")
			res = d.failure(def.Name, fmt.Errorf("%w: handler panic: %v", contractx.ErrToolExecution, r))
		}
	}()

	payload, patch, err := def.Handler(ctx, call.Args)
	if err != nil {
		return d.failure(def.Name, fmt.Errorf("%w: %v", contractx.ErrToolExecution, err))
	}
	return contractx.ToolResult{
		Tool:        def.Name,
		Status:      contractx.ToolStatusOK,
		Payload:     payload,
		MemoryPatch: patch,
		CompletedAt: d.now().UTC(),
	}
}

func (d *Dispatcher) dispatchGateway(ctx context.Context, def Definition, call contractx.ToolCall) contractx.ToolResult {
	if d.gateway == nil {
		return d.failure(def.Name, fmt.Errorf("%w: no gateway client configured", contractx.ErrTargetUnavailable))
	}

	payload, err := d.gateway.Invoke(ctx, def.Target, call.Args)
	if err != nil {
		log.Warn().
			Str("tool", def.Name).
			Str("target", def.Target).
			Err(err).
			Msg("gateway invocation degraded")
		return d.failure(def.Name, err)
	}
	return contractx.ToolResult{
		Tool:        def.Name,
		Status:      contractx.ToolStatusOK,
		Payload:     payload,
		CompletedAt: d.now().UTC(),
	}
}

func (d *Dispatcher) failure(tool string, err error) contractx.ToolResult {
	return contractx.ToolResult{
		Tool:        tool,
		Status:      contractx.ToolStatusError,
		Detail:      err.Error(),
		CompletedAt: d.now().UTC(),
	}
}

func validateArgs(params map[string]*schema.ParameterInfo, args map[string]any) error {
	for name, info := range params {
		raw, present := args[name]
		if !present {
			if info.Required {
				return fmt.Errorf("%w: missing required argument %q", contractx.ErrValidation, name)
			}
			continue
		}
		if err := checkType(name, info.Type, raw); err != nil {
			return err
		}
	}
	for name := range args {
		if _, known := params[name]; !known {
			return fmt.Errorf("%w: unknown argument %q", contractx.ErrValidation, name)
		}
	}
	return nil
}

func checkType(name string, want schema.DataType, raw any) error {
	switch want {
	case schema.String:
		if _, ok := raw.(string); !ok {
			return fmt.Errorf("%w: argument %q must be a string", contractx.ErrValidation, name)
		}
	case schema.Number, schema.Integer:
		switch raw.(type) {
		case float64, float32, int, int32, int64:
		default:
			return fmt.Errorf("%w: argument %q must be a number", contractx.ErrValidation, name)
		}
	case schema.Boolean:
		if _, ok := raw.(bool); !ok {
			return fmt.Errorf("%w: argument %q must be a boolean", contractx.ErrValidation, name)
		}
	}
	return nil
}
