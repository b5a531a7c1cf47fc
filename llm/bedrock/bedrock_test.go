package bedrock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/seedrun/seed/conversation"
	"github.com/seedrun/seed/llm"
)

type mockRuntime struct {
	output   *bedrockruntime.ConverseOutput
	err      error
	captured *bedrockruntime.ConverseInput
}

func (m *mockRuntime) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.captured = params
	return m.output, m.err
}

func (m *mockRuntime) ConverseStream(_ context.Context, params *bedrockruntime.ConverseStreamInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	m.captured = &bedrockruntime.ConverseInput{ModelId: params.ModelId, Messages: params.Messages}
	return nil, context.Canceled
}

func TestCompleteTranslatesTextAndToolUse(t *testing.T) {
	mock := &mockRuntime{output: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role: brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: "hello"},
				&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					Name:      aws.String("search"),
					ToolUseId: aws.String("call_1"),
					Input:     document.NewLazyDocument(&map[string]any{"query": "weather"}),
				}},
			},
		}},
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(5)},
		StopReason: brtypes.StopReasonToolUse,
	}}

	cl, err := New(mock, Options{Model: "anthropic.claude-3", MaxTokens: 128})
	require.NoError(t, err)

	req := llm.Request{
		Messages: []conversation.Message{conversation.NewTextMessage(conversation.RoleUser, "search for weather")},
		Tools:    []llm.ToolSpec{{Name: "search", Description: "search the web", Parameters: map[string]any{"type": "object"}}},
	}
	resp, err := cl.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Content)
	require.Equal(t, llm.StopToolUse, resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "search", resp.ToolCalls[0].ToolName)
	require.Equal(t, "weather", resp.ToolCalls[0].Input["query"])

	require.Equal(t, "anthropic.claude-3", *mock.captured.ModelId)
	require.Len(t, mock.captured.Messages, 1)
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	cl, err := New(&mockRuntime{}, Options{Model: "id", MaxTokens: 128})
	require.NoError(t, err)
	_, err = cl.Complete(context.Background(), llm.Request{})
	require.Error(t, err)
}

func TestNewRejectsMissingModel(t *testing.T) {
	_, err := New(&mockRuntime{}, Options{MaxTokens: 128})
	require.Error(t, err)
}

func TestSanitizeToolNameReplacesDisallowedRunes(t *testing.T) {
	require.Equal(t, "a_b_c", sanitizeToolName("a.b.c"))
}
