package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// anthropicClient is the Provider backed by the Anthropic Messages API.
type anthropicClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewAnthropicClient returns a Provider that calls the Anthropic API.
//   - apiKey:  your ANTHROPIC_API_KEY
//   - model:   e.g. "claude-sonnet-4-5"
//   - timeout: per-call HTTP timeout; assessments are treated as failed once
//     it elapses and the orchestrator moves to the next provider
func NewAnthropicClient(apiKey, model string, timeout time.Duration) Provider {
	return &anthropicClient{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *anthropicClient) Name() string { return "anthropic" }

// ─── ANTHROPIC API SHAPES ─────────────────────────────────────────────────────

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ─── PROMPT ──────────────────────────────────────────────────────────────────
// The model is prompted to respond in the exact Assessment JSON shape so the
// response parses without regex heuristics. Whatever comes back still goes
// through Normalize — the prompt is a request, not a guarantee.

const systemPrompt = `You are a mental-health risk screening assistant. You will receive the text of a user's wellbeing check-in (a voice transcription or questionnaire answers) together with minimal context about the user.

Assess the text for mental-health risk indicators. Be conservative: when in doubt, escalate rather than dismiss.

Respond ONLY with valid JSON matching this exact schema, no markdown fences, no preamble:
{
  "risk_level": "low" | "medium" | "high" | "critical",
  "urgency_level": "low" | "medium" | "high" | "immediate",
  "indicators": {
    "mood": "...",
    "anxiety": "...",
    "depression": "...",
    "suicidal_ideation": true | false,
    "self_harm_risk": true | false,
    "support_system": "..."
  },
  "key_concerns": ["..."],
  "summary": "1-3 sentence summary of the user's state",
  "recommendations": ["..."],
  "care_person_alert_text": "2-3 sentences addressed to the user's trusted contact, plain and compassionate, no clinical jargon"
}`

// sortedAnswerKeys keeps prompt construction deterministic across runs.
func sortedAnswerKeys(answers map[string]string) []string {
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildPrompt serializes the check-in into a compact prompt string.
func buildPrompt(in Input) string {
	var sb strings.Builder

	if in.UserName != "" {
		fmt.Fprintf(&sb, "User first name: %s\n", in.UserName)
	}

	if len(in.Answers) > 0 {
		sb.WriteString("Questionnaire answers:\n")
		for _, key := range sortedAnswerKeys(in.Answers) {
			fmt.Fprintf(&sb, "  %s: %s\n", key, in.Answers[key])
		}
	}

	sb.WriteString("Check-in text:\n")
	sb.WriteString(in.Text)
	sb.WriteString("\n")

	return sb.String()
}

// ─── IMPLEMENTATION ───────────────────────────────────────────────────────────

// Assess calls the Anthropic API and normalizes its response.
func (c *anthropicClient) Assess(ctx context.Context, in Input) (Assessment, error) {
	if c.apiKey == "" {
		return Assessment{}, fmt.Errorf("anthropic: no API key configured")
	}

	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: 1024,
		System:    systemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: buildPrompt(in)},
		},
	}

	raw, err := c.call(ctx, reqBody)
	if err != nil {
		return Assessment{}, err
	}

	parsed, err := parseAssessmentJSON(raw)
	if err != nil {
		return Assessment{}, fmt.Errorf("anthropic: %w", err)
	}

	return Normalize(parsed, in.Text), nil
}

// call sends one request to the Anthropic Messages API and returns the text
// content of the first content block.
func (c *anthropicClient) call(ctx context.Context, reqBody anthropicRequest) (string, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("anthropic: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.anthropic.com/v1/messages",
		bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return "", fmt.Errorf("anthropic: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("anthropic: http request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB cap
	if err != nil {
		return "", fmt.Errorf("anthropic: read response body: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", fmt.Errorf("anthropic: unmarshal response: %w", err)
	}

	if parsed.Error != nil {
		return "", fmt.Errorf("anthropic: API error %s: %s", parsed.Error.Type, parsed.Error.Message)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic: unexpected status %d: %.200s", resp.StatusCode, string(respBytes))
	}

	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}

	return "", fmt.Errorf("anthropic: no text content in response")
}

// parseAssessmentJSON strips any accidental markdown fences and unmarshals
// the model output into an untyped map for Normalize.
func parseAssessmentJSON(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse response JSON: %w (raw: %.200s)", err, raw)
	}
	return parsed, nil
}
