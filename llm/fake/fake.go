// Package fake provides a scripted llm.Client for the kernel's own tests:
// callers queue up responses (or a deferred/blocking one) and the client
// returns them in order, without making any network call.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/seedrun/seed/llm"
)

// Client is a scripted, in-memory llm.Client.
type Client struct {
	mu        sync.Mutex
	responses []llm.Response
	errs      []error
	calls     int

	// block, if set, is closed to release a call that should appear to
	// hang (used to test pause-mid-execution scenarios).
	block <-chan struct{}
	blockOnCall int
}

// New returns a Client that will return each of responses in order, one per
// Complete/Stream call. Calling past the end of responses repeats the last
// one.
func New(responses ...llm.Response) *Client {
	return &Client{responses: responses}
}

// BlockOnCall makes the call-th Complete/Stream (1-indexed) wait for gate to
// be closed before returning its scripted response, simulating a slow LLM.
func (c *Client) BlockOnCall(call int, gate <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockOnCall = call
	c.block = gate
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	gate := c.block
	waitCall := c.blockOnCall
	c.mu.Unlock()

	if gate != nil && n == waitCall {
		select {
		case <-gate:
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}

	return c.responseFor(n)
}

// Stream implements llm.Client by synthesizing chunks from the scripted
// response's content, then delivering it whole as the final result.
func (c *Client) Stream(ctx context.Context, req llm.Request, onChunk func(llm.StreamChunk)) (llm.Response, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return llm.Response{}, err
	}
	if resp.Content != "" {
		onChunk(llm.StreamChunk{Kind: "text", Text: resp.Content})
	}
	onChunk(llm.StreamChunk{Kind: "done"})
	return resp, nil
}

func (c *Client) responseFor(call int) (llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := call - 1
	if idx < len(c.errs) && c.errs[idx] != nil {
		return llm.Response{}, c.errs[idx]
	}
	if len(c.responses) == 0 {
		return llm.Response{}, fmt.Errorf("fake: no scripted response for call %d", call)
	}
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	return c.responses[idx], nil
}
