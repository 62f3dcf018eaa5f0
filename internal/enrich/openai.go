package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// maxAnnotateChars truncates oversized documents before the chat
	// call; embeddings get the same cap per input.
	maxAnnotateChars = 24000

	annotateSystemPrompt = `You summarize workplace content (chat threads, pull requests,
documents, meeting transcripts). Respond with JSON:
{"summary": "...", "keyPoints": ["..."], "sentiment": "positive|neutral|negative"}.
Keep the summary under 3 sentences and at most 5 key points.`
)

// OpenAI implements AI against the OpenAI API.
type OpenAI struct {
	client    *openai.Client
	chatModel string
}

// NewOpenAI builds the production AI client.
func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		client:    openai.NewClient(apiKey),
		chatModel: openai.GPT4oMini,
	}
}

func (o *OpenAI) Annotate(ctx context.Context, title, content string) (Annotation, error) {
	doc := content
	if len(doc) > maxAnnotateChars {
		doc = doc[:maxAnnotateChars]
	}
	if title != "" {
		doc = title + "\n\n" + doc
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: annotateSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: doc},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return Annotation{}, fmt.Errorf("enrich: annotate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Annotation{}, fmt.Errorf("enrich: annotate: empty response")
	}

	var ann Annotation
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &ann); err != nil {
		return Annotation{}, fmt.Errorf("enrich: annotate: decode: %w", err)
	}
	ann.Sentiment = normalizeSentiment(ann.Sentiment)
	return ann, nil
}

func normalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return "positive"
	case "negative":
		return "negative"
	default:
		return "neutral"
	}
}

func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	input := make([]string, len(texts))
	for i, t := range texts {
		if len(t) > maxAnnotateChars {
			t = t[:maxAnnotateChars]
		}
		input[i] = t
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.SmallEmbedding3,
		Input: input,
	})
	if err != nil {
		return nil, fmt.Errorf("enrich: embed: %w", err)
	}
	if len(resp.Data) != len(input) {
		return nil, fmt.Errorf("enrich: embed: got %d vectors for %d inputs", len(resp.Data), len(input))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}
