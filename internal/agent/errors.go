package agent

import "errors"

// ErrMaxToolRounds names the condition in which a round-loop invocation
// exhausts max_tool_rounds while the model still demands further tool use.
// The loop does not return it: it persists a plain-text warning message
// instead.
var ErrMaxToolRounds = errors.New("agent: max tool rounds exceeded")

// ErrSandboxTimeout names a sandbox executor timeout. The loop does not
// return it: a timeout reaches the model as the executor's error text in
// the execute_code tool result.
var ErrSandboxTimeout = errors.New("agent: sandbox execution timed out")

// ErrNoCompactor's message is the error text the compact_context tool
// reports, inside its JSON tool result, when no Compactor was wired into
// the Loop at construction time.
var ErrNoCompactor = errors.New("agent: no compactor configured")
