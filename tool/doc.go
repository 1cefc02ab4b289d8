// Package tool defines the data model and strategy boundary for tool
// execution.
//
// A ToolCall names a tool plus its arguments; a ToolResult records the
// outcome of running one. ExecutionStrategy is the narrow interface that
// execution backends (in-process, subprocess, remote) implement; wrappers
// such as toolguard/resilience decorate it without knowing how a tool is
// actually invoked.
//
// Optional behaviors are expressed as capability interfaces (SingleDispatch,
// CacheCapable) that a strategy either implements or does not. Wrappers check
// these with type assertions, never reflection.
package tool
