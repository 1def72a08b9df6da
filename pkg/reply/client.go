package reply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/ghhufue/chatrelay/pkg/models"
)

// Generator produces the automated peer's reply to a conversation. The
// call may take seconds; callers bound it with a context deadline so a
// hung collaborator cannot stall the sender's acknowledgement pipeline
// indefinitely.
type Generator interface {
	Generate(ctx context.Context, history []models.HistoryMessage, humanID int64) (string, error)
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	endpoint string
	model    string
	apiKey   string
	httpc    *http.Client
}

func NewClient(endpoint, model, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		httpc:    &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate sends the conversation to the model and returns its reply.
// History is ordered by message id; messages sent by the human principal
// become "user" turns, the automated peer's own become "assistant".
func (c *Client) Generate(ctx context.Context, history []models.HistoryMessage, humanID int64) (string, error) {
	msgs := transform(history, humanID)
	body, err := json.Marshal(completionRequest{Model: c.model, Messages: msgs, Stream: false})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion API error: %s", resp.Status)
	}
	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("invalid completion response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion response carried no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func transform(history []models.HistoryMessage, humanID int64) []chatMessage {
	sorted := append([]models.HistoryMessage(nil), history...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	out := make([]chatMessage, 0, len(sorted))
	for _, m := range sorted {
		role := "assistant"
		if m.SenderID == humanID {
			role = "user"
		}
		out = append(out, chatMessage{Role: role, Content: m.Content})
	}
	return out
}

// Canned is a fixed-reply generator for development and tests.
type Canned struct {
	Reply string
	// Delay simulates collaborator latency.
	Delay time.Duration
}

func (c Canned) Generate(ctx context.Context, history []models.HistoryMessage, humanID int64) (string, error) {
	if c.Delay > 0 {
		select {
		case <-time.After(c.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return c.Reply, nil
}
