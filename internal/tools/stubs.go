package tools

import (
	"fmt"
	"strings"
)

// GenerateStubs emits one language-neutral stub per registered tool, each
// forwarding its params to the sandbox's __callTool__ IPC helper. The
// stubs are loaded as code into the guest process alongside user code; the
// sandbox is the only component that interprets their syntax.
func (r *Registry) GenerateStubs() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder
	for _, name := range r.order {
		def := r.tools[name].Definition
		fmt.Fprintf(&sb, "async function %s(params) {\n  return await __callTool__(%q, params);\n}\n\n", def.Name, def.Name)
	}
	return sb.String()
}
