// Package openai implements llm.Client on top of the OpenAI Chat Completions
// API. Unlike llm/anthropic and llm/bedrock, this adapter's API shape is not
// grounded on a corpus file — see DESIGN.md for why — and instead follows
// the real github.com/openai/openai-go SDK surface, kept in the same
// injectable-interface architecture the other two adapters use.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/seedrun/seed/conversation"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/llm"
)

// CompletionsClient is the subset of the OpenAI SDK used by this adapter,
// satisfied by the client's Chat.Completions service so tests can substitute
// a stub.
type CompletionsClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Options configures the adapter's defaults.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client implements llm.Client against OpenAI Chat Completions.
type Client struct {
	completions CompletionsClient
	model       string
	maxTok      int
	temp        float64
}

// New builds a Client from an injected Chat Completions client.
func New(completions CompletionsClient, opts Options) (*Client, error) {
	if completions == nil {
		return nil, errors.New("openai: completions client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	return &Client{completions: completions, model: opts.Model, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client using the default OpenAI HTTP transport.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	oc := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, opts)
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return llm.Response{}, err
	}
	completion, err := c.completions.New(ctx, *params)
	if err != nil {
		return llm.Response{}, fmt.Errorf("openai: chat.completions.new: %w", err)
	}
	return translateResponse(completion)
}

// Stream implements llm.Client by draining the chat completion chunk stream
// inline, invoking onChunk per content/tool-argument delta and returning the
// accumulated Response once the stream ends.
func (c *Client) Stream(ctx context.Context, req llm.Request, onChunk func(llm.StreamChunk)) (llm.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return llm.Response{}, err
	}
	stream := c.completions.NewStreaming(ctx, *params)
	defer stream.Close()

	var text strings.Builder
	toolBlocks := map[int64]*toolBuffer{}
	var order []int64
	var finishReason string
	var usage openai.CompletionUsage

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			onChunk(llm.StreamChunk{Kind: "text", Text: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			tb, ok := toolBlocks[tc.Index]
			if !ok {
				tb = &toolBuffer{}
				toolBlocks[tc.Index] = tb
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				tb.id = tc.ID
			}
			if tc.Function.Name != "" {
				tb.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				tb.json.WriteString(tc.Function.Arguments)
				onChunk(llm.StreamChunk{Kind: "tool_call_delta"})
			}
		}
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
		if chunk.Usage.TotalTokens != 0 {
			usage = chunk.Usage
		}
	}
	if err := stream.Err(); err != nil {
		return llm.Response{}, fmt.Errorf("openai: stream: %w", err)
	}

	resp := llm.Response{
		Content:    text.String(),
		StopReason: translateFinishReason(finishReason),
		Usage:      llm.Usage{InputTokens: int(usage.PromptTokens), OutputTokens: int(usage.CompletionTokens)},
	}
	for _, idx := range order {
		tb := toolBlocks[idx]
		input := map[string]any{}
		if tb.json.Len() > 0 {
			_ = json.Unmarshal([]byte(tb.json.String()), &input)
		}
		resp.ToolCalls = append(resp.ToolCalls, conversation.ToolUsePart{
			ToolCallID: ident.ToolCallID(tb.id),
			ToolName:   tb.name,
			Input:      input,
		})
	}
	onChunk(llm.StreamChunk{Kind: "done"})
	return resp, nil
}

type toolBuffer struct {
	id   string
	name string
	json strings.Builder
}

func (c *Client) prepareRequest(req llm.Request) (*openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	msgs, err := encodeMessages(req)
	if err != nil {
		return nil, err
	}
	params := &openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: msgs,
	}
	if c.maxTok > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTok))
	}
	if c.temp > 0 {
		params.Temperature = openai.Float(c.temp)
	}
	if tools := encodeTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	return params, nil
}

func encodeMessages(req llm.Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case conversation.RoleSystem:
			for _, p := range m.Parts {
				if tp, ok := p.(conversation.TextPart); ok && tp.Text != "" {
					out = append(out, openai.SystemMessage(tp.Text))
				}
			}
		case conversation.RoleUser:
			text := textOf(m.Parts)
			if text != "" {
				out = append(out, openai.UserMessage(text))
			}
		case conversation.RoleAssistant:
			text := textOf(m.Parts)
			var calls []openai.ChatCompletionMessageToolCallParam
			for _, p := range m.Parts {
				if tu, ok := p.(conversation.ToolUsePart); ok {
					args, _ := json.Marshal(tu.Input)
					calls = append(calls, openai.ChatCompletionMessageToolCallParam{
						ID: string(tu.ToolCallID),
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      tu.ToolName,
							Arguments: string(args),
						},
					})
				}
			}
			asst := openai.ChatCompletionAssistantMessageParam{}
			if text != "" {
				asst.Content.OfString = openai.String(text)
			}
			if len(calls) > 0 {
				asst.ToolCalls = calls
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case conversation.RoleTool:
			for _, p := range m.Parts {
				if tr, ok := p.(conversation.ToolResultPart); ok {
					out = append(out, openai.ToolMessage(tr.Content, string(tr.ToolCallID)))
				}
			}
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one user/assistant message is required")
	}
	return out, nil
}

func textOf(parts []conversation.Part) string {
	var b strings.Builder
	for _, p := range parts {
		if tp, ok := p.(conversation.TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

func encodeTools(specs []llm.ToolSpec) []openai.ChatCompletionToolParam {
	if len(specs) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  openai.FunctionParameters(spec.Parameters),
			},
		})
	}
	return out
}

func translateResponse(completion *openai.ChatCompletion) (llm.Response, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return llm.Response{}, errors.New("openai: response has no choices")
	}
	choice := completion.Choices[0]
	resp := llm.Response{
		Content:    choice.Message.Content,
		StopReason: translateFinishReason(choice.FinishReason),
		Usage: llm.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		input := map[string]any{}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		}
		resp.ToolCalls = append(resp.ToolCalls, conversation.ToolUsePart{
			ToolCallID: ident.ToolCallID(tc.ID),
			ToolName:   tc.Function.Name,
			Input:      input,
		})
	}
	return resp, nil
}

func translateFinishReason(reason string) llm.StopReason {
	switch reason {
	case "tool_calls":
		return llm.StopToolUse
	case "length":
		return llm.StopMaxTokens
	case "stop", "":
		return llm.StopEndTurn
	default:
		return llm.StopEndTurn
	}
}
