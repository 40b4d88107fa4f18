package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"digestbot/pkg/logx"
	"digestbot/pkg/textkit"
)

const (
	// postTextLimit caps a single post's text before it enters the prompt.
	postTextLimit = 3000

	defaultModel     = openai.GPT4oMini
	completionTokens = 4000
	temperature      = 0.3
)

const systemPrompt = "You are an expert at analyzing and summarizing content " +
	"from Telegram channels. Produce detailed, structured summaries for a batch " +
	"of posts from a single channel. Do not use bold or italic formatting."

// ErrSummarization marks a failed summarization call.
var ErrSummarization = errors.New("summarization failed")

// Summarizer turns one batch of posts into a summary string.
type Summarizer interface {
	Summarize(ctx context.Context, b Batch, keywords string) (string, error)
}

// OpenAI implements Summarizer on the OpenAI chat completion API.
type OpenAI struct {
	client *openai.Client
	model  string
	log    logx.Logger
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

func NewOpenAI(cfg OpenAIConfig, log logx.Logger) *OpenAI {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &OpenAI{
		client: openai.NewClient(cfg.APIKey),
		model:  model,
		log:    log,
	}
}

func (o *OpenAI) Summarize(ctx context.Context, b Batch, keywords string) (string, error) {
	prompt := buildBatchPrompt(b, keywords)

	o.log.Debug("summarization request",
		logx.String("channel", b.Channel),
		logx.Int("batch", b.Index),
		logx.Int("total", b.Total),
		logx.Int("posts", len(b.Posts)))

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		MaxTokens:   completionTokens,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSummarization, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrSummarization)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// buildBatchPrompt renders one batch's posts with channel and batch metadata
// so the model can keep its output anchored to the channel context.
func buildBatchPrompt(b Batch, keywords string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Analyze %d posts from the Telegram channel @%s and produce a detailed structured summary.",
		len(b.Posts), b.Channel)
	if keywords != "" {
		fmt.Fprintf(&sb, "\nFilter keywords: %s", keywords)
	}
	if b.Total > 1 {
		fmt.Fprintf(&sb, "\nThis is batch %d of %d for @%s.", b.Index, b.Total, b.Channel)
	}

	sb.WriteString("\n\nRequirements:\n")
	sb.WriteString("1. Start with a header naming the channel")
	if b.Total > 1 {
		sb.WriteString(" and the batch number")
	}
	sb.WriteString(".\n")
	sb.WriteString("2. Summarize every post separately, keeping all important details.\n")
	sb.WriteString("3. Preserve numbers, links, phone numbers, dates and times verbatim.\n")
	sb.WriteString("4. Keep the structure and logic of the original posts.\n")
	sb.WriteString("5. Do not use bold or italic formatting.\n")

	sb.WriteString("\nPosts:\n")
	fmt.Fprintf(&sb, "CHANNEL: @%s\n", b.Channel)
	sb.WriteString(strings.Repeat("=", 50) + "\n")
	for i, p := range b.Posts {
		fmt.Fprintf(&sb, "POST %d:\nDate: %s\nText: %s\n\n",
			i+1, p.Date.Format("02.01.2006 15:04"), textkit.TruncRunes(p.Text, postTextLimit))
	}
	sb.WriteString(strings.Repeat("=", 50) + "\n")
	sb.WriteString("\nProduce the detailed structured summary now.")

	return sb.String()
}
