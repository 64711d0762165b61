package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/haasonsaas/spiritd/internal/tools"
)

// guestMessage is one newline-framed JSON object sent by the subordinate.
type guestMessage struct {
	Type   string         `json:"type"`
	Data   string         `json:"data,omitempty"`
	CallID string         `json:"call_id,omitempty"`
	Name   string         `json:"name,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// hostMessage is one newline-framed JSON object the host writes back.
type hostMessage struct {
	Type   string        `json:"type"`
	CallID string        `json:"call_id"`
	Result *tools.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// ipcSession reads the subordinate's stdout line by line, accumulating
// output and dispatching tool calls through the registry, writing results
// back to the subordinate's stdin. It stops early (via kill) when either
// runtime limit is exceeded.
type ipcSession struct {
	registry      *tools.Registry
	stdin         io.Writer
	maxOutputSize int
	maxToolCalls  int
	kill          func()
	logger        *slog.Logger

	output                strings.Builder
	toolCallsMade         int
	firstProcessingError  string
	killedForOutputLimit  bool
	killedForToolCallLimit bool
}

// run drains stdout until EOF or a limit forces an early kill. It is meant
// to be called from its own goroutine; it returns once the subordinate's
// stdout is closed (normal exit) or the session kills the process.
func (s *ipcSession) run(ctx context.Context, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var msg guestMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			if s.firstProcessingError == "" {
				s.firstProcessingError = fmt.Sprintf("malformed IPC line: %v", err)
			}
			continue
		}

		switch msg.Type {
		case "__output__":
			s.output.WriteString(msg.Data)
			s.output.WriteString("\n")
			if s.output.Len() > s.maxOutputSize {
				s.killedForOutputLimit = true
				s.kill()
				return
			}
		case "__tool_call__":
			s.toolCallsMade++
			if s.toolCallsMade > s.maxToolCalls {
				s.killedForToolCallLimit = true
				s.kill()
				return
			}
			result := s.registry.Dispatch(ctx, msg.Name, msg.Params)
			s.respond(msg.CallID, result)
		case "__debug__":
			if s.logger != nil {
				s.logger.Debug("sandbox debug message", "raw", line)
			}
		}
	}
}

func (s *ipcSession) respond(callID string, result tools.Result) {
	var hm hostMessage
	if result.Error == "" {
		hm = hostMessage{Type: "__tool_result__", CallID: callID, Result: &result}
	} else {
		hm = hostMessage{Type: "__tool_error__", CallID: callID, Error: result.Error}
	}
	raw, err := json.Marshal(hm)
	if err != nil {
		return
	}
	raw = append(raw, '\n')
	_, _ = s.stdin.Write(raw)
}
