package modelport

import "context"

// Fake is a scripted Model for tests: each call to Complete pops the next
// response off Responses (cycling the last one if the script runs short),
// and records the request it was called with.
type Fake struct {
	Responses []*CompletionResponse
	Err       error

	Calls []CompletionRequest
	next  int
}

var _ Model = (*Fake)(nil)

func (f *Fake) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	f.Calls = append(f.Calls, req)
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.Responses) == 0 {
		return &CompletionResponse{StopReason: StopEndTurn}, nil
	}
	idx := f.next
	if idx >= len(f.Responses) {
		idx = len(f.Responses) - 1
	} else {
		f.next++
	}
	return f.Responses[idx], nil
}
