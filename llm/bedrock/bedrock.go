// Package bedrock implements llm.Client on top of the AWS Bedrock Converse
// API, translating this kernel's provider-agnostic Request/Response to and
// from github.com/aws/aws-sdk-go-v2/service/bedrockruntime types.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/seedrun/seed/conversation"
	"github.com/seedrun/seed/ident"
	"github.com/seedrun/seed/llm"
)

// RuntimeClient is the subset of the AWS Bedrock runtime client this adapter
// needs, satisfied by *bedrockruntime.Client so tests can substitute a stub.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the adapter's defaults.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// Client implements llm.Client against AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	model   string
	maxTok  int
	temp    float32
}

// New builds a Client from an injected Bedrock runtime client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	return &Client{runtime: runtime, model: opts.Model, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromConfig constructs a Client over the default bedrockruntime.Client.
func NewFromConfig(cfg aws.Config, opts Options) (*Client, error) {
	return New(bedrockruntime.NewFromConfig(cfg), opts)
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	input, nameMap, err := c.prepareInput(req)
	if err != nil {
		return llm.Response{}, err
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return llm.Response{}, fmt.Errorf("bedrock: converse: %w", err)
	}
	return translateResponse(out, nameMap)
}

// Stream implements llm.Client by draining ConverseStream's event stream
// inline, invoking onChunk per text/tool delta.
func (c *Client) Stream(ctx context.Context, req llm.Request, onChunk func(llm.StreamChunk)) (llm.Response, error) {
	input, nameMap, err := c.prepareInput(req)
	if err != nil {
		return llm.Response{}, err
	}
	streamInput := &bedrockruntime.ConverseStreamInput{
		ModelId:         input.ModelId,
		Messages:        input.Messages,
		System:          input.System,
		ToolConfig:      input.ToolConfig,
		InferenceConfig: input.InferenceConfig,
	}
	out, err := c.runtime.ConverseStream(ctx, streamInput)
	if err != nil {
		return llm.Response{}, fmt.Errorf("bedrock: converse_stream: %w", err)
	}
	stream := out.GetStream()
	defer stream.Close()

	var text strings.Builder
	toolBlocks := map[int32]*toolBuffer{}
	var order []int32
	var usage brtypes.TokenUsage
	var stopReason brtypes.StopReason

	for event := range stream.Events() {
		switch ev := event.(type) {
		case *brtypes.ConverseStreamOutputMemberContentBlockStart:
			if tu, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
				name := ""
				if tu.Value.Name != nil {
					name = resolveName(*tu.Value.Name, nameMap)
				}
				id := ""
				if tu.Value.ToolUseId != nil {
					id = *tu.Value.ToolUseId
				}
				toolBlocks[ev.Value.ContentBlockIndex] = &toolBuffer{id: id, name: name}
				order = append(order, ev.Value.ContentBlockIndex)
			}
		case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
			switch d := ev.Value.Delta.(type) {
			case *brtypes.ContentBlockDeltaMemberText:
				if d.Value == "" {
					continue
				}
				text.WriteString(d.Value)
				onChunk(llm.StreamChunk{Kind: "text", Text: d.Value})
			case *brtypes.ContentBlockDeltaMemberToolUse:
				if tb := toolBlocks[ev.Value.ContentBlockIndex]; tb != nil && d.Value.Input != nil {
					tb.json.WriteString(*d.Value.Input)
					onChunk(llm.StreamChunk{Kind: "tool_call_delta"})
				}
			}
		case *brtypes.ConverseStreamOutputMemberMessageStop:
			stopReason = ev.Value.StopReason
		case *brtypes.ConverseStreamOutputMemberMetadata:
			if ev.Value.Usage != nil {
				usage = *ev.Value.Usage
			}
		}
	}
	if err := stream.Err(); err != nil {
		return llm.Response{}, fmt.Errorf("bedrock: stream: %w", err)
	}

	resp := llm.Response{
		Content:    text.String(),
		StopReason: translateStopReason(stopReason),
		Usage:      llm.Usage{InputTokens: int(ptrValue(usage.InputTokens)), OutputTokens: int(ptrValue(usage.OutputTokens))},
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

func (c *Client) prepareInput(req llm.Request) (*bedrockruntime.ConverseInput, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("bedrock: at least one message is required")
	}
	toolConfig, sanToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	canonToSan := make(map[string]string, len(sanToCanon))
	for san, canon := range sanToCanon {
		canonToSan[canon] = san
	}
	msgs, system, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return nil, nil, err
	}
	if req.System != "" {
		system = append([]brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}, system...)
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.model),
		Messages: msgs,
	}
	if len(system) > 0 {
		input.System = system
	}
	if toolConfig != nil {
		input.ToolConfig = toolConfig
	}
	cfg := &brtypes.InferenceConfiguration{}
	set := false
	if c.maxTok > 0 {
		v := int32(c.maxTok)
		cfg.MaxTokens = &v
		set = true
	}
	if c.temp > 0 {
		cfg.Temperature = aws.Float32(c.temp)
		set = true
	}
	if set {
		input.InferenceConfig = cfg
	}
	return input, sanToCanon, nil
}

func encodeMessages(msgs []conversation.Message, canonToSan map[string]string) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	out := make([]brtypes.Message, 0, len(msgs))
	var system []brtypes.SystemContentBlock
	for _, m := range msgs {
		if m.Role == conversation.RoleSystem {
			for _, p := range m.Parts {
				if tp, ok := p.(conversation.TextPart); ok && tp.Text != "" {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: tp.Text})
				}
			}
			continue
		}
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case conversation.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case conversation.ToolUsePart:
				name := string(v.ToolName)
				if sanitized, ok := canonToSan[name]; ok {
					name = sanitized
				}
				tb := brtypes.ToolUseBlock{
					ToolUseId: aws.String(string(v.ToolCallID)),
					Name:      aws.String(name),
					Input:     lazyDocument(v.Input),
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: tb})
			case conversation.ToolResultPart:
				tr := brtypes.ToolResultBlock{
					ToolUseId: aws.String(string(v.ToolCallID)),
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: v.Content},
					},
				}
				if v.IsError {
					tr.Status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: tr})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		var role brtypes.ConversationRole
		switch m.Role {
		case conversation.RoleUser, conversation.RoleTool:
			role = brtypes.ConversationRoleUser
		case conversation.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
		out = append(out, brtypes.Message{Role: role, Content: blocks})
	}
	if len(out) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return out, system, nil
}

func encodeTools(specs []llm.ToolSpec) (*brtypes.ToolConfiguration, map[string]string, error) {
	if len(specs) == 0 {
		return nil, nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(specs))
	sanToCanon := make(map[string]string, len(specs))
	for _, spec := range specs {
		sanitized := sanitizeToolName(spec.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != spec.Name {
			return nil, nil, fmt.Errorf("bedrock: tool name %q sanitizes to %q which collides with %q", spec.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = spec.Name
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(spec.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: lazyDocument(spec.Parameters)},
		}})
	}
	return &brtypes.ToolConfiguration{Tools: toolList}, sanToCanon, nil
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
	return string(out)
}

func resolveName(provName string, nameMap map[string]string) string {
	if canon, ok := nameMap[provName]; ok {
		return canon
	}
	return provName
}

func translateResponse(out *bedrockruntime.ConverseOutput, nameMap map[string]string) (llm.Response, error) {
	if out == nil {
		return llm.Response{}, errors.New("bedrock: response is nil")
	}
	resp := llm.Response{}
	var text strings.Builder
	if msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				text.WriteString(v.Value)
			case *brtypes.ContentBlockMemberToolUse:
				name := ""
				if v.Value.Name != nil {
					name = resolveName(*v.Value.Name, nameMap)
				}
				id := ""
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				resp.ToolCalls = append(resp.ToolCalls, conversation.ToolUsePart{
					ToolCallID: ident.ToolCallID(id),
					ToolName:   name,
					Input:      decodeDocument(v.Value.Input),
				})
			}
		}
	}
	resp.Content = text.String()
	resp.StopReason = translateStopReason(out.StopReason)
	if usage := out.Usage; usage != nil {
		resp.Usage = llm.Usage{
			InputTokens:  int(ptrValue(usage.InputTokens)),
			OutputTokens: int(ptrValue(usage.OutputTokens)),
		}
	}
	return resp, nil
}

func decodeDocument(doc document.Interface) map[string]any {
	m := map[string]any{}
	if doc == nil {
		return m
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return m
	}
	_ = json.Unmarshal(data, &m)
	return m
}

func lazyDocument(v any) document.Interface {
	return document.NewLazyDocument(&v)
}

func ptrValue[T ~int32 | ~int64](ptr *T) T {
	if ptr == nil {
		return 0
	}
	return *ptr
}

func translateStopReason(r brtypes.StopReason) llm.StopReason {
	switch r {
	case brtypes.StopReasonToolUse:
		return llm.StopToolUse
	case brtypes.StopReasonMaxTokens:
		return llm.StopMaxTokens
	case brtypes.StopReasonEndTurn, brtypes.StopReasonStopSequence:
		return llm.StopEndTurn
	default:
		return llm.StopEndTurn
	}
}
