package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"cockpit/internal/chat"
)

// Config configures the OpenAI-compatible backend client.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	TimeoutMS    int
	MaxSteps     int
	SystemPrompt string
}

// Client implements Dispatcher against an OpenAI-compatible streaming
// endpoint. Approved tool invocations are delegated to the injected
// ToolExecutor and their results fed back into the exchange.
type Client struct {
	client   *openai.Client
	executor ToolExecutor
	model    string
	cfg      Config
	mu       sync.RWMutex

	// completeFn runs one model round; replaceable in tests.
	completeFn func(ctx context.Context, req openai.ChatCompletionRequest, onDelta func(string)) (roundResult, error)
}

type roundResult struct {
	content      string
	toolCalls    []openai.ToolCall
	finishReason string
}

// ErrStreamClosed is returned by Respond after the exchange has reached a
// terminal state.
var ErrStreamClosed = errors.New("stream closed")

func NewClient(cfg Config, executor ToolExecutor) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	httpClient := &http.Client{}
	if cfg.TimeoutMS > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	clientCfg.HTTPClient = httpClient

	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 32
	}

	c := &Client{
		client:   openai.NewClientWithConfig(clientCfg),
		executor: executor,
		model:    cfg.Model,
		cfg:      cfg,
	}
	c.completeFn = c.chatStream
	return c
}

func (c *Client) CurrentModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

func (c *Client) SetModel(model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("model is empty")
	}
	c.mu.Lock()
	c.model = model
	c.mu.Unlock()
	return nil
}

func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	models := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, ModelInfo{ID: m.ID, OwnedBy: m.OwnedBy})
	}
	return models, nil
}

// Send dispatches the thread's message log and returns the stream handle.
// The exchange runs until completion, error, or context cancellation.
func (c *Client) Send(ctx context.Context, threadID string, messages []chat.Message) (Stream, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, fmt.Errorf("thread id is empty")
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("message log is empty")
	}
	s := newExchangeStream()
	go c.run(ctx, messages, s)
	return s, nil
}

func (c *Client) run(ctx context.Context, messages []chat.Message, s *exchangeStream) {
	defer s.finish()

	history := c.buildPrompt(messages)
	tools := c.toolDefs()

	for step := 0; step < c.cfg.MaxSteps; step++ {
		req := openai.ChatCompletionRequest{
			Model:    c.CurrentModel(),
			Messages: history,
			Stream:   true,
		}
		if len(tools) > 0 {
			req.Tools = tools
			req.ToolChoice = "auto"
		}

		res, err := c.completeFn(ctx, req, func(chunk string) {
			s.emit(ctx, Event{Kind: EventDelta, Text: chunk})
		})
		if err != nil {
			s.emit(ctx, Event{Kind: EventError, Err: err})
			return
		}

		history = append(history, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   res.content,
			ToolCalls: res.toolCalls,
		})

		if len(res.toolCalls) == 0 {
			s.emit(ctx, Event{Kind: EventCompleted})
			return
		}

		for _, call := range res.toolCalls {
			pending := &ToolCall{
				ApprovalID: uuid.NewString(),
				Tool:       call.Function.Name,
				RawArgs:    json.RawMessage(call.Function.Arguments),
			}
			if !s.emit(ctx, Event{Kind: EventToolCall, ToolCall: pending}) {
				return
			}
			approved, err := s.await(ctx, pending.ApprovalID)
			if err != nil {
				s.emit(ctx, Event{Kind: EventError, Err: err})
				return
			}
			result := "Invocation denied by the user."
			if approved {
				result, err = c.execute(ctx, call.Function.Name, pending.RawArgs)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						s.emit(ctx, Event{Kind: EventError, Err: err})
						return
					}
					result = fmt.Sprintf("tool failed: %v", err)
				}
			}
			history = append(history, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Name:       call.Function.Name,
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}
	s.emit(ctx, Event{Kind: EventError, Err: fmt.Errorf("step limit reached (%d)", c.cfg.MaxSteps)})
}

func (c *Client) execute(ctx context.Context, tool string, rawArgs json.RawMessage) (string, error) {
	if c.executor == nil {
		return "", fmt.Errorf("no tool executor configured")
	}
	return c.executor.Execute(ctx, tool, rawArgs)
}

func (c *Client) toolDefs() []openai.Tool {
	if c.executor == nil {
		return nil
	}
	defs := c.executor.Definitions()
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return out
}

// buildPrompt converts the thread log. Image attachments become image
// parts; other attachments are referenced by relative path so the backend
// knows what context the user pinned.
func (c *Client) buildPrompt(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if strings.TrimSpace(c.cfg.SystemPrompt) != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.cfg.SystemPrompt,
		})
	}
	for _, msg := range messages {
		out = append(out, convertMessage(msg))
	}
	return out
}

func convertMessage(msg chat.Message) openai.ChatCompletionMessage {
	converted := openai.ChatCompletionMessage{Role: msg.Role}

	images := make([]chat.Attachment, 0, len(msg.Attachments))
	refs := make([]string, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		if att.IsImage && att.PreviewDataURL != "" {
			images = append(images, att)
			continue
		}
		path := att.RelativePath
		if path == "" {
			path = att.AbsolutePath
		}
		if path != "" {
			refs = append(refs, path)
		}
	}

	text := msg.Content
	if len(refs) > 0 {
		text = text + "\n\n[attached: " + strings.Join(refs, ", ") + "]"
	}

	if len(images) == 0 {
		converted.Content = text
		return converted
	}

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: text}}
	for _, att := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    att.PreviewDataURL,
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	converted.MultiContent = parts
	return converted
}

// chatStream runs one streamed model round, invoking onDelta for each
// content chunk and accumulating tool calls across chunks.
func (c *Client) chatStream(ctx context.Context, req openai.ChatCompletionRequest, onDelta func(string)) (roundResult, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return roundResult{}, fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	var (
		contentBuilder strings.Builder
		toolCallsByIdx = map[int]*toolCallAccumulator{}
		finishReason   string
	)

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Keep partial content when the stream dies mid-round.
			if contentBuilder.Len() > 0 || len(toolCallsByIdx) > 0 {
				break
			}
			return roundResult{}, fmt.Errorf("recv stream: %w", err)
		}

		for _, choice := range resp.Choices {
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
			if choice.Delta.Content != "" {
				contentBuilder.WriteString(choice.Delta.Content)
				if onDelta != nil {
					onDelta(choice.Delta.Content)
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				acc, ok := toolCallsByIdx[idx]
				if !ok {
					acc = &toolCallAccumulator{}
					toolCallsByIdx[idx] = acc
				}
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Function.Name != "" {
					acc.name += tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					acc.args.WriteString(tc.Function.Arguments)
				}
			}
		}
	}

	return roundResult{
		content:      contentBuilder.String(),
		toolCalls:    assembleToolCalls(toolCallsByIdx),
		finishReason: finishReason,
	}, nil
}

type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

func assembleToolCalls(byIdx map[int]*toolCallAccumulator) []openai.ToolCall {
	if len(byIdx) == 0 {
		return nil
	}
	maxIdx := 0
	for idx := range byIdx {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	calls := make([]openai.ToolCall, 0, len(byIdx))
	for i := 0; i <= maxIdx; i++ {
		acc, ok := byIdx[i]
		if !ok {
			continue
		}
		id := strings.TrimSpace(acc.id)
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		calls = append(calls, openai.ToolCall{
			ID:   id,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      strings.TrimSpace(acc.name),
				Arguments: acc.args.String(),
			},
		})
	}
	return calls
}
