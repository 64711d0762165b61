// Package sandbox runs guest code in a subordinate process with strict
// capability gates and a newline-framed JSON IPC bridge back to the host's
// tool registry. Capability flags map directly onto the guest runtime's own
// permission model (network host allow-list, read/write path allow-list,
// subprocess allow-list), so the host never opens a broader door than it
// means to and never needs its own sandboxing layer on top of the OS
// process boundary.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	execsafety "github.com/haasonsaas/spiritd/internal/exec"
	"github.com/haasonsaas/spiritd/internal/tools"
)

// Result is what Execute returns: a single outcome, never a partial one.
type Result struct {
	Success       bool
	Output        string
	Error         string
	ToolCallsMade int
	DurationMs    int64
}

// Executor spawns a fresh, isolated subordinate process for each call. It
// holds no per-execution state between calls.
type Executor struct {
	cfg      Config
	registry *tools.Registry
	logger   *slog.Logger
}

// New constructs an Executor bound to a tool registry. Tool dispatch during
// execution is read-only against the registry, so concurrent Execute calls
// from independent conversations are safe.
func New(registry *tools.Registry, logger *slog.Logger, opts ...Option) *Executor {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Executor{cfg: cfg, registry: registry, logger: logger}
}

// Execute runs code in a subordinate process, wiring toolStubs in ahead of
// it and deriving network/credential context from executionContext.
func (e *Executor) Execute(ctx context.Context, code, toolStubs string, executionContext map[string]string) *Result {
	start := time.Now()

	if len(code) > e.cfg.MaxCodeSize {
		return &Result{Success: false, Error: fmt.Sprintf("code exceeds max_code_size (%d > %d bytes)", len(code), e.cfg.MaxCodeSize)}
	}

	if err := e.validateCapabilities(); err != nil {
		return &Result{Success: false, Error: err.Error()}
	}

	if err := os.MkdirAll(e.cfg.WorkingDir, 0o700); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("prepare working dir: %v", err)}
	}

	script, err := assembleScript(code, toolStubs, executionContext)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}
	}

	scriptPath, err := e.writeScriptFile(script)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}
	}
	defer os.Remove(scriptPath)

	return e.run(ctx, scriptPath, executionContext, start)
}

func (e *Executor) writeScriptFile(script string) (string, error) {
	f, err := os.CreateTemp(e.cfg.WorkingDir, "spiritd-sandbox-*.js")
	if err != nil {
		return "", fmt.Errorf("create temp script: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(script); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp script: %w", err)
	}
	return f.Name(), nil
}

func (e *Executor) run(ctx context.Context, scriptPath string, executionContext map[string]string, start time.Time) *Result {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.CodeTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.runtimePath(), e.runtimeArgs(executionContext, scriptPath)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("attach stdin: %v", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("attach stdout: %v", err)}
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("start subordinate: %v", err)}
	}

	session := &ipcSession{
		registry:      e.registry,
		stdin:         stdin,
		maxOutputSize: e.cfg.MaxOutputSize,
		maxToolCalls:  e.cfg.MaxToolCallsPerExec,
		logger:        e.logger,
		kill:          func() { _ = cmd.Process.Kill() },
	}

	done := make(chan struct{})
	go func() {
		session.run(runCtx, stdout)
		close(done)
	}()

	waitErr := cmd.Wait()
	_ = stdin.Close()
	<-done

	duration := time.Since(start).Milliseconds()

	if runCtx.Err() == context.DeadlineExceeded {
		return &Result{Success: false, Error: fmt.Sprintf("execution timed out after %d ms", e.cfg.CodeTimeout.Milliseconds()), ToolCallsMade: session.toolCallsMade, DurationMs: duration}
	}
	if session.killedForOutputLimit {
		return &Result{Success: false, Error: "accumulated output exceeded max_output_size", ToolCallsMade: session.toolCallsMade, DurationMs: duration}
	}
	if session.killedForToolCallLimit {
		return &Result{Success: false, Error: "tool call count exceeded max_tool_calls_per_exec", ToolCallsMade: session.toolCallsMade, DurationMs: duration}
	}

	output := session.output.String()
	if output == "" && stderr.Len() > 0 {
		errText := stderr.String()
		if len(errText) > 2000 {
			errText = errText[:2000]
		}
		return &Result{Success: false, Error: errText, ToolCallsMade: session.toolCallsMade, DurationMs: duration}
	}

	if waitErr != nil {
		errMsg := session.firstProcessingError
		if errMsg == "" {
			errMsg = waitErr.Error()
		}
		return &Result{Success: false, Error: errMsg, ToolCallsMade: session.toolCallsMade, DurationMs: duration}
	}

	return &Result{Success: true, Output: output, ToolCallsMade: session.toolCallsMade, DurationMs: duration}
}

// validateCapabilities rejects a runtime path, allowed-run entry, or allowed
// host carrying shell metacharacters or control bytes before they ever reach
// exec.CommandContext or a runtime flag string. Go's exec package never
// invokes a shell, so this is not closing a command-injection hole in this
// process; it catches a misconfigured or attacker-influenced capability list
// before it's handed to the guest runtime, which does interpret its own
// flag values.
func (e *Executor) validateCapabilities() error {
	if e.cfg.RuntimePath != "" && !execsafety.IsSafeExecutableValue(e.cfg.RuntimePath) {
		return fmt.Errorf("runtime path %q failed safety validation", e.cfg.RuntimePath)
	}
	for _, run := range e.cfg.Capabilities.AllowedRun {
		if !execsafety.IsSafeExecutableValue(run) {
			return fmt.Errorf("allowed_run entry %q failed safety validation", run)
		}
	}
	for _, host := range e.cfg.Capabilities.AllowedHosts {
		if !execsafety.IsSafeArgument(host) {
			return fmt.Errorf("allowed_hosts entry %q failed safety validation", host)
		}
	}
	return nil
}

func (e *Executor) runtimePath() string {
	if e.cfg.RuntimePath != "" {
		return e.cfg.RuntimePath
	}
	return "deno"
}

// runtimeArgs renders the capability flags into the guest runtime's own
// permission flags: network host allow-list, read allow-list (working dir
// plus any additional read paths), write restricted to exactly the working
// dir, and subprocess allow-list. Environment access and FFI are never
// granted — there is no flag for either, so omission is the denial.
func (e *Executor) runtimeArgs(executionContext map[string]string, scriptPath string) []string {
	args := []string{"run", "--quiet"}
	if flag := e.networkFlag(executionContext); flag != "" {
		args = append(args, flag)
	}
	args = append(args, "--allow-read="+e.readPaths())
	args = append(args, "--allow-write="+e.cfg.WorkingDir)
	if flag := e.runFlag(); flag != "" {
		args = append(args, flag)
	}
	args = append(args, scriptPath)
	return args
}

func (e *Executor) networkFlag(executionContext map[string]string) string {
	hosts := append([]string(nil), e.cfg.Capabilities.AllowedHosts...)
	if host := executionContext["pds_host"]; host != "" {
		hosts = append(hosts, host)
	}
	if len(hosts) == 0 {
		return ""
	}
	return "--allow-net=" + strings.Join(hosts, ",")
}

func (e *Executor) readPaths() string {
	paths := make([]string, 0, len(e.cfg.Capabilities.AllowedReadPaths)+1)
	paths = append(paths, e.cfg.WorkingDir)
	for _, p := range e.cfg.Capabilities.AllowedReadPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		paths = append(paths, abs)
	}
	return strings.Join(paths, ",")
}

func (e *Executor) runFlag() string {
	if len(e.cfg.Capabilities.AllowedRun) == 0 {
		return ""
	}
	return "--allow-run=" + strings.Join(e.cfg.Capabilities.AllowedRun, ",")
}
