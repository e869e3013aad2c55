package contract

import "errors"

var (
	// Fatal at bootstrap only; the process refuses to start.
	ErrConfiguration = errors.New("invalid configuration")

	ErrDuplicateTool = errors.New("duplicate tool name")
	ErrToolNotFound  = errors.New("tool not found")
	ErrValidation    = errors.New("validation failed")
	ErrToolExecution = errors.New("tool execution failed")

	ErrAuthExpired       = errors.New("auth token rejected")
	ErrTargetUnavailable = errors.New("gateway target unavailable")
	ErrInvocationTimeout = errors.New("invocation timed out")
	ErrUpstream          = errors.New("upstream error")

	ErrMemoryUnavailable    = errors.New("memory store unavailable")
	ErrRetrievalUnavailable = errors.New("retrieval backend unavailable")

	ErrPlannerInvoke   = errors.New("planner invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
)
