package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// whisperClient is the Transcriber backed by the OpenAI audio transcription
// API (or any Whisper-compatible endpoint).
type whisperClient struct {
	apiKey     string
	model      string // e.g. "whisper-1"
	httpClient *http.Client
}

// NewWhisperClient returns a Transcriber that calls the OpenAI transcription
// endpoint. timeout bounds each call; audio uploads are slow, so this should
// be generous (60s+).
func NewWhisperClient(apiKey, model string, timeout time.Duration) Transcriber {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &whisperClient{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ─── WHISPER API SHAPES ──────────────────────────────────────────────────────

// whisperResponse is the verbose_json response shape. Segments carry the
// per-segment log probabilities from which an overall confidence is derived.
type whisperResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ─── IMPLEMENTATION ──────────────────────────────────────────────────────────

// Transcribe uploads the audio file and returns the recognized text. An
// empty or whitespace-only result is reported as ErrUnreadableAudio.
func (c *whisperClient) Transcribe(ctx context.Context, audioPath string) (Transcription, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return Transcription{}, fmt.Errorf("transcribe: open audio: %w: %w", ErrUnreadableAudio, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return Transcription{}, fmt.Errorf("transcribe: build form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return Transcription{}, fmt.Errorf("transcribe: read audio: %w: %w", ErrUnreadableAudio, err)
	}
	if err := mw.WriteField("model", c.model); err != nil {
		return Transcription{}, fmt.Errorf("transcribe: build form: %w", err)
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return Transcription{}, fmt.Errorf("transcribe: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Transcription{}, fmt.Errorf("transcribe: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.openai.com/v1/audio/transcriptions",
		&buf,
	)
	if err != nil {
		return Transcription{}, fmt.Errorf("transcribe: build request: %w", err)
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transcription{}, fmt.Errorf("transcribe: http request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Transcription{}, fmt.Errorf("transcribe: read response: %w", err)
	}

	var parsed whisperResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return Transcription{}, fmt.Errorf("transcribe: unmarshal response (status %d): %w", resp.StatusCode, err)
	}

	if parsed.Error != nil {
		return Transcription{}, fmt.Errorf("transcribe: API error %s: %s", parsed.Error.Type, parsed.Error.Message)
	}

	if resp.StatusCode != http.StatusOK {
		return Transcription{}, fmt.Errorf("transcribe: unexpected status %d: %.200s", resp.StatusCode, string(respBytes))
	}

	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		return Transcription{}, fmt.Errorf("transcribe: recognizer returned no text: %w", ErrUnreadableAudio)
	}

	return Transcription{
		Text:            text,
		Confidence:      confidenceFromSegments(parsed),
		DurationSeconds: parsed.Duration,
	}, nil
}

// confidenceFromSegments derives a [0,1] confidence from the per-segment
// average log probabilities: mean of exp(avg_logprob) over segments.
// Returns 0 when the provider sends no segments.
func confidenceFromSegments(r whisperResponse) float64 {
	if len(r.Segments) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range r.Segments {
		total += math.Exp(s.AvgLogprob)
	}
	conf := total / float64(len(r.Segments))
	if conf > 1 {
		conf = 1
	}
	return conf
}
