package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"

// Classification is the tagged outcome for a single comment. Fallback
// true means the provider answer was missing or ambiguous and the
// deterministic defaults were assigned; Reason says why.
type Classification struct {
	Attribute string
	Sentiment string
	Fallback  bool
	Reason    string
}

// BatchClassifier classifies one unit of work. Implementations must
// keep per-record results independent: a single ambiguous item yields a
// fallback Classification, never an error. Errors are reserved for
// whole-call failures (ProviderError).
type BatchClassifier interface {
	ClassifyBatch(ctx context.Context, batch []CommentRecord) (map[int]Classification, UsageCounters, error)
}

// LLMClient classifies comments via an external completion API, with an
// optional local heuristic shortcut and keyword-rule overrides applied
// after the model's answer.
type LLMClient struct {
	cfg      Config
	rules    *KeywordRules
	examples *tfidfIndex
}

func NewLLMClient(cfg Config, history []historicalComment, rules *KeywordRules) *LLMClient {
	var idx *tfidfIndex
	if len(history) > 0 {
		idx = buildTFIDFIndex(history)
	}
	return &LLMClient{cfg: cfg, rules: rules, examples: idx}
}

// Classify handles a single comment. Provided for callers that work
// record-at-a-time; the orchestrator uses ClassifyBatch.
func (c *LLMClient) Classify(ctx context.Context, rec CommentRecord) (Classification, UsageCounters, error) {
	results, usage, err := c.ClassifyBatch(ctx, []CommentRecord{rec})
	if err != nil {
		return Classification{}, UsageCounters{}, err
	}
	return results[rec.Index], usage, nil
}

// ClassifyBatch classifies a batch of comments in one provider call.
// Records the local heuristic can settle are excluded from the request
// to reduce request volume.
func (c *LLMClient) ClassifyBatch(ctx context.Context, batch []CommentRecord) (map[int]Classification, UsageCounters, error) {
	results := make(map[int]Classification, len(batch))

	var remote []CommentRecord
	for _, rec := range batch {
		if c.cfg.HeuristicPrefilter {
			if cls, ok := classifyLocally(rec.Text); ok {
				results[rec.Index] = cls
				continue
			}
		}
		remote = append(remote, rec)
	}

	var usage UsageCounters
	if len(remote) > 0 {
		ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.LLMTimeoutSecs)*time.Second)
		defer cancel()

		systemPrompt, userPrompt := c.buildClassifyPrompts(remote)

		var responseText string
		var callErr error
		switch c.cfg.LLMProvider {
		case "anthropic":
			model := c.cfg.LLMModel
			if model == "" {
				model = defaultAnthropicModel
			}
			log.Printf("llm classify provider=anthropic model=%s comments=%d", model, len(remote))
			responseText, usage, callErr = callAnthropic(ctx, c.cfg.AnthropicAPIKey, model, systemPrompt, userPrompt)
		default:
			model := c.cfg.LLMModel
			if model == "" {
				model = defaultOpenAIModel
			}
			log.Printf("llm classify provider=openai model=%s comments=%d", model, len(remote))
			responseText, usage, callErr = callOpenAI(ctx, c.cfg.OpenAIAPIKey, model, systemPrompt, userPrompt)
		}
		if callErr != nil {
			// Token usage for a failed call is 0/0.
			return nil, UsageCounters{}, callErr
		}

		parsed, parseErr := parseClassifyResponse(responseText)
		if parseErr != nil {
			return nil, UsageCounters{}, &ProviderError{Provider: c.cfg.LLMProvider, Err: parseErr}
		}

		for _, rec := range remote {
			item, ok := parsed[rec.Index]
			switch {
			case !ok:
				results[rec.Index] = Classification{
					Attribute: FallbackAttribute,
					Sentiment: FallbackSentiment,
					Fallback:  true,
					Reason:    "missing from response",
				}
			case !IsValidAttribute(item.Attribute) || !IsValidSentiment(item.Sentiment):
				results[rec.Index] = Classification{
					Attribute: FallbackAttribute,
					Sentiment: FallbackSentiment,
					Fallback:  true,
					Reason:    fmt.Sprintf("unknown label %q/%q", item.Attribute, item.Sentiment),
				}
			default:
				results[rec.Index] = Classification{Attribute: item.Attribute, Sentiment: item.Sentiment}
			}
		}
	}

	if c.rules != nil {
		for _, rec := range batch {
			if cls, ok := results[rec.Index]; ok {
				results[rec.Index] = c.rules.ApplyOverrides(rec.Text, cls)
			}
		}
	}
	return results, usage, nil
}

func (c *LLMClient) buildClassifyPrompts(batch []CommentRecord) (string, string) {
	var attrLines strings.Builder
	for _, attr := range ChatAttributes {
		attrLines.WriteString("- " + attr + "\n")
	}

	systemPrompt := fmt.Sprintf(`You classify live-stream shopping chat comments.
For each comment choose exactly one attribute from:
%s
and exactly one sentiment from: %s.

Comments may be in Japanese or English. If nothing fits, use attribute %q and sentiment %q.

Respond with JSON only (no markdown):
[{"index": 0, "attribute": "00 product question", "sentiment": "neutral"}, ...]`,
		attrLines.String(), strings.Join(ChatSentiments, ", "), FallbackAttribute, FallbackSentiment)

	examplesBlock := "none"
	if c.examples != nil && c.cfg.ExampleCount > 0 {
		var queries []string
		for _, rec := range batch {
			queries = append(queries, rec.Text)
		}
		selected := c.examples.topKForBatch(queries, c.cfg.ExampleCount)
		var exBuf strings.Builder
		for _, ex := range selected {
			text := strings.TrimSpace(ex.Text)
			if len(text) > c.cfg.ExampleMaxLen {
				text = text[:c.cfg.ExampleMaxLen] + "..."
			}
			exBuf.WriteString(fmt.Sprintf("- EX|%s|%s|%s\n", ex.Attribute, ex.Sentiment, text))
		}
		if exBuf.Len() > 0 {
			examplesBlock = exBuf.String()
		}
	}

	var commentLines strings.Builder
	for _, rec := range batch {
		commentLines.WriteString(fmt.Sprintf("INDEX:%d - %s\n", rec.Index, strings.TrimSpace(rec.Text)))
	}

	userPrompt := "Examples from previous analyses:\n" + examplesBlock +
		"\nClassify these comments:\n\n" + commentLines.String()
	return systemPrompt, userPrompt
}

type classifiedItem struct {
	Index     int    `json:"index"`
	Attribute string `json:"attribute"`
	Sentiment string `json:"sentiment"`
}

func parseClassifyResponse(responseText string) (map[int]classifiedItem, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var items []classifiedItem
	if err := json.Unmarshal([]byte(responseText), &items); err != nil {
		truncated := responseText
		if len(truncated) > 512 {
			truncated = truncated[:512] + fmt.Sprintf("... [truncated, total_length=%d]", len(responseText))
		}
		return nil, fmt.Errorf("parsing classification response: %w (truncated response: %s)", err, truncated)
	}

	parsed := make(map[int]classifiedItem, len(items))
	for _, item := range items {
		item.Attribute = strings.TrimSpace(item.Attribute)
		item.Sentiment = strings.ToLower(strings.TrimSpace(item.Sentiment))
		parsed[item.Index] = item
	}
	return parsed, nil
}

// --- Anthropic ---

func callAnthropic(ctx context.Context, apiKey, model, systemPrompt, userPrompt string) (string, UsageCounters, error) {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return "", UsageCounters{}, &ProviderError{Provider: "anthropic", StatusCode: status, Err: err}
	}

	usage := UsageCounters{
		PromptTokens:     message.Usage.InputTokens,
		CompletionTokens: message.Usage.OutputTokens,
		TotalTokens:      message.Usage.InputTokens + message.Usage.OutputTokens,
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d", len(block.Text), usage.PromptTokens, usage.CompletionTokens)
			return block.Text, usage, nil
		}
	}
	return "", UsageCounters{}, &ProviderError{Provider: "anthropic", Err: fmt.Errorf("no text content in response")}
}

// --- OpenAI ---

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func callOpenAI(ctx context.Context, apiKey, model, systemPrompt, userPrompt string) (string, UsageCounters, error) {
	reqBody := openAIRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", UsageCounters{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.openai.com/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", UsageCounters{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := externalHTTPClient.Do(req)
	if err != nil {
		log.Printf("llm openai error: %v", err)
		return "", UsageCounters{}, &ProviderError{Provider: "openai", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", UsageCounters{}, &ProviderError{Provider: "openai", StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return "", UsageCounters{}, &ProviderError{Provider: "openai", StatusCode: resp.StatusCode, Err: fmt.Errorf("parsing response: %w", err)}
	}

	if openAIResp.Error != nil {
		log.Printf("llm openai api error status=%d: %s", resp.StatusCode, openAIResp.Error.Message)
		return "", UsageCounters{}, &ProviderError{Provider: "openai", StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", openAIResp.Error.Message)}
	}
	if len(openAIResp.Choices) == 0 {
		return "", UsageCounters{}, &ProviderError{Provider: "openai", StatusCode: resp.StatusCode, Err: fmt.Errorf("no choices in response")}
	}

	usage := UsageCounters{}
	if openAIResp.Usage != nil {
		usage.PromptTokens = openAIResp.Usage.PromptTokens
		usage.CompletionTokens = openAIResp.Usage.CompletionTokens
		usage.TotalTokens = openAIResp.Usage.PromptTokens + openAIResp.Usage.CompletionTokens
	}

	log.Printf("llm openai response size=%d tokens_in=%d tokens_out=%d", len(openAIResp.Choices[0].Message.Content), usage.PromptTokens, usage.CompletionTokens)
	return openAIResp.Choices[0].Message.Content, usage, nil
}
