// Package anthropic implements llm.Client on top of the Anthropic Claude
// Messages API, translating this kernel's provider-agnostic Request/Response
// to and from github.com/anthropics/anthropic-sdk-go types.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/seedrun/seed/conversation"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/llm"
)

// MessagesClient is the subset of the Anthropic SDK used by this adapter,
// satisfied by *sdk.MessageService so tests can substitute a stub.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the adapter's defaults.
type Options struct {
	// Model is the Claude model identifier, e.g. string(sdk.ModelClaudeSonnet4_5).
	Model string
	// MaxTokens is the completion cap sent with every request.
	MaxTokens int
	// Temperature is applied when positive; Anthropic's own default is used
	// otherwise.
	Temperature float64
}

// Client implements llm.Client against the Anthropic Messages API.
type Client struct {
	msg   MessagesClient
	model string
	maxTok int
	temp  float64
}

// New builds a Client from an injected Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	if opts.MaxTokens <= 0 {
		return nil, errors.New("anthropic: max tokens must be positive")
	}
	return &Client{msg: msg, model: opts.Model, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP transport.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return llm.Response{}, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return llm.Response{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}
	return translateResponse(msg, nameMap)
}

// Stream implements llm.Client by draining the Anthropic SSE stream inline,
// invoking onChunk for each text/tool delta and returning the accumulated
// Response once the stream ends.
func (c *Client) Stream(ctx context.Context, req llm.Request, onChunk func(llm.StreamChunk)) (llm.Response, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return llm.Response{}, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	defer stream.Close()

	var text strings.Builder
	toolBlocks := map[int64]*toolBuffer{}
	var order []int64
	var stopReason sdk.StopReason
	var usage sdk.Usage

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolBlocks[ev.Index] = &toolBuffer{id: tu.ID, name: resolveName(tu.Name, nameMap)}
				order = append(order, ev.Index)
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				text.WriteString(delta.Text)
				onChunk(llm.StreamChunk{Kind: "text", Text: delta.Text})
			case sdk.InputJSONDelta:
				if tb := toolBlocks[ev.Index]; tb != nil && delta.PartialJSON != "" {
					tb.json.WriteString(delta.PartialJSON)
					onChunk(llm.StreamChunk{Kind: "tool_call_delta"})
				}
			}
		case sdk.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				stopReason = ev.Delta.StopReason
			}
			usage.OutputTokens = ev.Usage.OutputTokens
		case sdk.MessageStartEvent:
			usage.InputTokens = ev.Message.Usage.InputTokens
		}
	}
	if err := stream.Err(); err != nil {
		return llm.Response{}, fmt.Errorf("anthropic: stream: %w", err)
	}

	resp := llm.Response{
		Content:    text.String(),
		StopReason: translateStopReason(stopReason),
		Usage:      llm.Usage{InputTokens: int(usage.InputTokens), OutputTokens: int(usage.OutputTokens)},
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

func (c *Client) prepareRequest(req llm.Request) (*sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("anthropic: at least one message is required")
	}
	tools, sanToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	canonToSan := make(map[string]string, len(sanToCanon))
	for san, canon := range sanToCanon {
		canonToSan[canon] = san
	}
	msgs, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return nil, nil, err
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(c.maxTok),
		Messages:  msgs,
		Model:     sdk.Model(c.model),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}
	return &params, sanToCanon, nil
}

func encodeMessages(msgs []conversation.Message, canonToSan map[string]string) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == conversation.RoleSystem {
			continue // dropped; params.System comes from req.System only
		}
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case conversation.TextPart:
				if v.Text != "" {
					blocks = append(blocks, sdk.NewTextBlock(v.Text))
				}
			case conversation.ToolUsePart:
				name := string(v.ToolName)
				if sanitized, ok := canonToSan[name]; ok {
					name = sanitized
				}
				blocks = append(blocks, sdk.NewToolUseBlock(string(v.ToolCallID), v.Input, name))
			case conversation.ToolResultPart:
				blocks = append(blocks, sdk.NewToolResultBlock(string(v.ToolCallID), v.Content, v.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case conversation.RoleUser, conversation.RoleTool:
			out = append(out, sdk.NewUserMessage(blocks...))
		case conversation.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return out, nil
}

// encodeTools sanitizes tool names to the character set Anthropic accepts
// and returns the forward (sanitized->canonical) map used to translate tool
// calls back on the way out.
func encodeTools(specs []llm.ToolSpec) ([]sdk.ToolUnionParam, map[string]string, error) {
	if len(specs) == 0 {
		return nil, nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(specs))
	sanToCanon := make(map[string]string, len(specs))
	for _, spec := range specs {
		sanitized := sanitizeToolName(spec.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != spec.Name {
			return nil, nil, fmt.Errorf("anthropic: tool name %q sanitizes to %q which collides with %q", spec.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = spec.Name
		schema, err := toolInputSchema(spec.Parameters)
		if err != nil {
			return nil, nil, fmt.Errorf("anthropic: tool %q schema: %w", spec.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, sanitized)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(spec.Description)
		}
		out = append(out, u)
	}
	return out, sanToCanon, nil
}

func toolInputSchema(schema map[string]any) (sdk.ToolInputSchemaParam, error) {
	if len(schema) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	return sdk.ToolInputSchemaParam{ExtraFields: schema}, nil
}

func sanitizeToolName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return string(out)
}

func resolveName(provName string, nameMap map[string]string) string {
	if canon, ok := nameMap[provName]; ok {
		return canon
	}
	return provName
}

func translateResponse(msg *sdk.Message, nameMap map[string]string) (llm.Response, error) {
	if msg == nil {
		return llm.Response{}, errors.New("anthropic: response message is nil")
	}
	resp := llm.Response{}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, conversation.ToolUsePart{
				ToolCallID: ident.ToolCallID(block.ID),
				ToolName:   resolveName(block.Name, nameMap),
				Input:      inputMap(block.Input),
			})
		}
	}
	resp.Content = text.String()
	resp.StopReason = translateStopReason(msg.StopReason)
	resp.Usage = llm.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	return resp, nil
}

func inputMap(raw json.RawMessage) map[string]any {
	m := map[string]any{}
	if len(raw) == 0 {
		return m
	}
	_ = json.Unmarshal(raw, &m)
	return m
}

func translateStopReason(r sdk.StopReason) llm.StopReason {
	switch r {
	case sdk.StopReasonToolUse:
		return llm.StopToolUse
	case sdk.StopReasonMaxTokens:
		return llm.StopMaxTokens
	case sdk.StopReasonEndTurn, sdk.StopReasonStopSequence:
		return llm.StopEndTurn
	default:
		return llm.StopEndTurn
	}
}
