// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/SwiftRover/pkg/secrets"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("swiftrover.llm")

// DefaultAPIVersion is the Azure OpenAI data-plane API version used when
// none is configured.
const DefaultAPIVersion = "2024-06-01"

// AzureConfig configures an AzureOpenAIClient.
type AzureConfig struct {
	// Endpoint is the resource URL, e.g. https://my-resource.openai.azure.com.
	Endpoint string

	// APIKey is sent as the api-key header. Revealed per request.
	APIKey *secrets.Secret

	// APIVersion defaults to DefaultAPIVersion.
	APIVersion string

	// Deployment is the chat deployment name (used verbatim in the URL).
	Deployment string

	// HTTPClient defaults to a client with a 60s timeout.
	HTTPClient *http.Client
}

// AzureOpenAIClient implements LLMClient against an Azure OpenAI chat
// deployment using go-openai.
//
// # Thread Safety
//
// Safe for concurrent use.
type AzureOpenAIClient struct {
	client     *openai.Client
	deployment string
}

// keyInjector adds the api-key header at send time so the plaintext key is
// never stored in the go-openai client config.
type keyInjector struct {
	next *http.Client
	key  *secrets.Secret
}

func (k *keyInjector) Do(req *http.Request) (*http.Response, error) {
	key, err := k.key.Reveal()
	if err != nil {
		return nil, fmt.Errorf("reveal api key: %w", err)
	}
	req.Header.Set("api-key", key)
	return k.next.Do(req)
}

// NewAzureOpenAIClient builds a chat client.
//
// # Description
//
// Uses openai.DefaultAzureConfig with an identity deployment mapper, so
// deployment names containing dots (gpt-5.1) are used as-is in the
// /openai/deployments/{name}/ path.
//
// # Outputs
//
//   - *AzureOpenAIClient: Ready client.
//   - error: Non-nil if endpoint, key or deployment are missing.
func NewAzureOpenAIClient(cfg AzureConfig) (*AzureOpenAIClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure openai endpoint not set")
	}
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("azure openai api key not set")
	}
	if cfg.Deployment == "" {
		return nil, fmt.Errorf("azure openai deployment not set")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	oaCfg := openai.DefaultAzureConfig("", strings.TrimSuffix(cfg.Endpoint, "/"))
	oaCfg.APIVersion = cfg.APIVersion
	oaCfg.AzureModelMapperFunc = func(model string) string { return model }
	oaCfg.HTTPClient = &keyInjector{next: httpClient, key: cfg.APIKey}

	slog.Info("Initializing Azure OpenAI client",
		"deployment", cfg.Deployment, "api_version", cfg.APIVersion)
	return &AzureOpenAIClient{
		client:     openai.NewClientWithConfig(oaCfg),
		deployment: cfg.Deployment,
	}, nil
}

// Deployment returns the configured deployment name.
func (a *AzureOpenAIClient) Deployment() string {
	return a.deployment
}

// Generate implements LLMClient.
func (a *AzureOpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return a.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, params)
}

// Chat implements LLMClient.
func (a *AzureOpenAIClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "AzureOpenAIClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.deployment", a.deployment),
		attribute.Int("llm.messages", len(messages)),
	)

	req := a.buildRequest(messages, params)
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		return "", fmt.Errorf("azure openai chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("azure openai returned no choices")
	}
	slog.Debug("Azure OpenAI chat completed",
		"deployment", a.deployment, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// ChatStream implements LLMClient.
//
// # Description
//
// Token deltas are forwarded as they arrive. Tool call fragments are
// accumulated by their stream index and delivered once, as a single
// StreamEventToolCalls event, after the stream ends.
//
// # Outputs
//
//   - error: Upstream failure, or the callback's error wrapped with
//     "callback".
func (a *AzureOpenAIClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, callback StreamCallback) error {
	ctx, span := tracer.Start(ctx, "AzureOpenAIClient.ChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.deployment", a.deployment))

	req := a.buildRequest(messages, params)
	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream open failed")
		return fmt.Errorf("azure openai stream failed: %w", err)
	}
	defer stream.Close()

	acc := newToolCallAccumulator()
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream receive failed")
			return fmt.Errorf("azure openai stream receive: %w", err)
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				if err := callback(StreamEvent{Type: StreamEventToken, Content: choice.Delta.Content}); err != nil {
					return fmt.Errorf("callback: %w", err)
				}
			}
			for i, tc := range choice.Delta.ToolCalls {
				acc.add(i, tc)
			}
		}
	}

	if calls := acc.calls(); len(calls) > 0 {
		span.SetAttributes(attribute.Int("llm.tool_calls", len(calls)))
		if err := callback(StreamEvent{Type: StreamEventToolCalls, ToolCalls: calls}); err != nil {
			return fmt.Errorf("callback: %w", err)
		}
	}
	return nil
}

func (a *AzureOpenAIClient) buildRequest(messages []Message, params GenerationParams) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    a.deployment,
		Messages: toOpenAIMessages(messages, params),
	}
	if samplingSupported(a.deployment) {
		if params.Temperature != nil {
			req.Temperature = *params.Temperature
		}
		if params.TopP != nil {
			req.TopP = *params.TopP
		}
	} else if params.Temperature != nil || params.TopP != nil {
		slog.Debug("Deployment only accepts default sampling, dropping temperature and top_p",
			"deployment", a.deployment)
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	for _, tool := range params.Tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return req
}

// samplingSupported reports whether the deployment accepts temperature and
// top_p. Reasoning families only accept the defaults.
func samplingSupported(deployment string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(deployment, prefix) {
			return false
		}
	}
	return true
}

func toOpenAIMessages(messages []Message, params GenerationParams) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if params.SystemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: params.SystemPrompt,
		})
	}

	detail := openai.ImageURLDetail(params.ImageDetail)
	if detail == "" {
		detail = openai.ImageURLDetailHigh
	}

	for _, m := range messages {
		msg := openai.ChatCompletionMessage{Role: m.Role}
		switch {
		case len(m.Images) > 0:
			if m.Content != "" {
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: m.Content,
				})
			}
			for _, img := range m.Images {
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: img, Detail: detail},
				})
			}
		default:
			msg.Content = m.Content
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		msg.ToolCallID = m.ToolCallID
		out = append(out, msg)
	}
	return out
}

// toolCallAccumulator merges streamed tool call fragments. The first
// fragment of a call carries its ID and name; later fragments append to
// the argument string.
type toolCallAccumulator struct {
	byIndex map[int]*ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*ToolCall)}
}

func (t *toolCallAccumulator) add(position int, tc openai.ToolCall) {
	idx := position
	if tc.Index != nil {
		idx = *tc.Index
	}
	cur, ok := t.byIndex[idx]
	if !ok {
		cur = &ToolCall{}
		t.byIndex[idx] = cur
	}
	if tc.ID != "" {
		cur.ID = tc.ID
	}
	if tc.Function.Name != "" {
		cur.Name = tc.Function.Name
	}
	cur.Arguments += tc.Function.Arguments
}

func (t *toolCallAccumulator) calls() []ToolCall {
	if len(t.byIndex) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(t.byIndex))
	for idx := range t.byIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	out := make([]ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, *t.byIndex[idx])
	}
	return out
}

var _ LLMClient = (*AzureOpenAIClient)(nil)
