package sandbox

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

//go:embed runtime/bridge.js
var runtimeFS embed.FS

func runtimeBridgeText() (string, error) {
	data, err := runtimeFS.ReadFile("runtime/bridge.js")
	if err != nil {
		return "", fmt.Errorf("read runtime bridge: %w", err)
	}
	return string(data), nil
}

// credentialConstants renders each execution-context entry as a const
// declaration whose value is JSON-encoded, so guest code can reference it
// by name without the host ever formatting guest-facing string literals by
// hand. Keys are sorted so script assembly is deterministic.
func credentialConstants(executionContext map[string]string) (string, error) {
	if len(executionContext) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(executionContext))
	for k := range executionContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		encoded, err := json.Marshal(executionContext[k])
		if err != nil {
			return "", fmt.Errorf("encode execution context value %s: %w", k, err)
		}
		fmt.Fprintf(&sb, "const %s = %s;\n", k, encoded)
	}
	return sb.String(), nil
}

// wrapUserCode wraps guest code in an async scope that turns any thrown
// exception into an "Error: " output line and always terminates the
// process on the way out, so a stray listener left by the guest can't
// survive past the host's timeout.
func wrapUserCode(code string) string {
	return fmt.Sprintf(`(async () => {
  try {
%s
  } catch (err) {
    __emitOutput("Error: " + (err && err.message ? err.message : String(err)));
  } finally {
    Deno.exit(0);
  }
})();
`, code)
}

// assembleScript concatenates the runtime bridge, credential constants,
// tool stubs, and wrapped user code, in that order.
func assembleScript(code, toolStubs string, executionContext map[string]string) (string, error) {
	bridge, err := runtimeBridgeText()
	if err != nil {
		return "", err
	}
	creds, err := credentialConstants(executionContext)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(bridge)
	sb.WriteString("\n")
	sb.WriteString(creds)
	sb.WriteString(toolStubs)
	sb.WriteString(wrapUserCode(code))
	return sb.String(), nil
}
