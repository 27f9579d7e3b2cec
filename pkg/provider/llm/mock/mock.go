// Package mock provides a scripted [llm.Provider] for tests and for
// voice.mock_external_calls.
//
//	p := &mock.Provider{Replies: []string{"You have 12 days left.", "Carry-over is capped at 5 days."}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hrvoice/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of [llm.Provider]. Fields must be set
// before the first call.
//
// Complete answers, in order of precedence: CompleteErr, then the next entry
// of Replies (the last one repeats), then CompleteResponse. With none of them
// set it returns nil, nil.
type Provider struct {
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// Replies are returned as reply text one per call, with TokensPerReply
	// reported as the total token count.
	Replies        []string
	TokensPerReply int

	mu            sync.Mutex
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the scripted answer.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req.Messages = append([]llm.Message(nil), req.Messages...)
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	switch {
	case p.CompleteErr != nil:
		return nil, p.CompleteErr
	case len(p.Replies) > 0:
		i := min(len(p.CompleteCalls), len(p.Replies)) - 1
		return &llm.CompletionResponse{
			Content: p.Replies[i],
			Usage:   llm.Usage{TotalTokens: p.TokensPerReply},
		}, nil
	case p.CompleteResponse != nil:
		resp := *p.CompleteResponse
		return &resp, nil
	}
	return nil, nil
}

// CallCount returns the number of Complete invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// LastRequest returns the most recent request, or false if none was made.
func (p *Provider) LastRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.CompleteCalls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.CompleteCalls[len(p.CompleteCalls)-1].Req, true
}

// Reset clears all recorded calls and restarts the Replies script.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
