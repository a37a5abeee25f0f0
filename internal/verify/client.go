// Package verify filters candidate postings through an LLM judge.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scoutlab/scholarhunt/internal/hunter"
)

// Config controls the judge endpoint and batching.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	BatchSize   int
	Timeout     time.Duration
	Temperature float64
}

// Client implements hunter.RelevanceOracle against an OpenAI-compatible
// chat completions endpoint.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Verify runs candidates through the judge in batches and returns the
// approved subset, deduplicated by exact URL. Judge failures degrade to
// keeping the affected batch; verification must never lose postings to
// an outage.
func (c *Client) Verify(ctx context.Context, jobs []hunter.Posting, keywords string) ([]hunter.Posting, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	var approved []hunter.Posting
	for start := 0; start < len(jobs); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(jobs) {
			end = len(jobs)
		}
		batch := jobs[start:end]

		kept, err := c.verifyBatch(ctx, batch, keywords)
		if err != nil {
			c.logger.Warn("judge verification failed, keeping batch",
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			kept = batch
		}
		approved = append(approved, kept...)
	}
	return dedupeByURL(approved), nil
}

func (c *Client) verifyBatch(ctx context.Context, batch []hunter.Posting, keywords string) ([]hunter.Posting, error) {
	content, err := c.chat(ctx, verifySystemPrompt, buildVerifyPrompt(batch, keywords))
	if err != nil {
		return nil, err
	}

	var indices []int
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &indices); err != nil {
		return nil, fmt.Errorf("parse judge response %q: %w", content, err)
	}

	kept := make([]hunter.Posting, 0, len(indices))
	for _, idx := range indices {
		// Judge numbering is 1-indexed; anything out of range is noise.
		if idx > 0 && idx <= len(batch) {
			kept = append(kept, batch[idx-1])
		}
	}
	return kept, nil
}

// ScoreHistory asks the judge for a 0-10 relevance score per record,
// parallel to the input slice. An answer of the wrong length is an
// error; callers treat any error as "keep everything".
func (c *Client) ScoreHistory(ctx context.Context, jobs []hunter.JobRecord, keywords string) ([]int, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	scores := make([]int, 0, len(jobs))
	for start := 0; start < len(jobs); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(jobs) {
			end = len(jobs)
		}
		batch := jobs[start:end]

		content, err := c.chat(ctx, scoreSystemPrompt, buildScorePrompt(batch, keywords))
		if err != nil {
			return nil, err
		}
		var batchScores []int
		if err := json.Unmarshal([]byte(stripCodeFence(content)), &batchScores); err != nil {
			return nil, fmt.Errorf("parse judge scores %q: %w", content, err)
		}
		if len(batchScores) != len(batch) {
			return nil, fmt.Errorf("judge returned %d scores for %d records", len(batchScores), len(batch))
		}
		scores = append(scores, batchScores...)
	}
	return scores, nil
}

const (
	verifySystemPrompt = "You are a precise job listing validator. Respond only with valid JSON arrays."
	scoreSystemPrompt  = "You are a precise job relevance scorer. Respond only with valid JSON arrays of integers."
)

func buildVerifyPrompt(batch []hunter.Posting, keywords string) string {
	var sb strings.Builder
	for i, job := range batch {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Job %d:\nTitle: %s\nInstitution: %s\nURL: %s",
			i+1, orNA(job.Title), orNA(job.University), orNA(job.URL))
	}
	return fmt.Sprintf(`You are a PhD job listing validator. Review these job postings and identify which ones are VALID.

A job is VALID if:
1. The title indicates a SPECIFIC position (not just "PhD Opportunities" or "General Applications")
2. It's relevant to these keywords: %s
3. The URL appears to be a direct link to a job posting (not a general careers page)

A job is INVALID if:
- Generic title like "PhD Positions", "Open Positions", "Join Our Team"
- URL is a homepage or general careers page
- Completely irrelevant to the keywords

Jobs to verify:
%s

Respond ONLY with a JSON array of valid job numbers (1-indexed). Example: [1, 3, 5, 7]
If ALL jobs are invalid, respond with: []
`, keywords, sb.String())
}

func buildScorePrompt(batch []hunter.JobRecord, keywords string) string {
	var sb strings.Builder
	for i, job := range batch {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Job %d:\nTitle: %s\nInstitution: %s\nURL: %s",
			i+1, orNA(job.Title), orNA(job.University), orNA(job.URL))
	}
	return fmt.Sprintf(`Rate how relevant each job posting is to these keywords: %s

Jobs:
%s

Respond ONLY with a JSON array of integer scores from 0 to 10, one per job,
in the same order. Example for three jobs: [8, 2, 6]
`, keywords, sb.String())
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) chat(ctx context.Context, system, user string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   500,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat endpoint error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response had no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// stripCodeFence tolerates judges that wrap JSON in markdown fences.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func dedupeByURL(jobs []hunter.Posting) []hunter.Posting {
	seen := make(map[string]bool, len(jobs))
	unique := make([]hunter.Posting, 0, len(jobs))
	for _, job := range jobs {
		if job.URL == "" || seen[job.URL] {
			continue
		}
		seen[job.URL] = true
		unique = append(unique, job)
	}
	return unique
}
