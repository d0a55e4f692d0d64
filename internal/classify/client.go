package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tomasvik/docpipe/constants"
	"github.com/tomasvik/docpipe/internal/common"
	"github.com/tomasvik/docpipe/internal/entity"
	"github.com/tomasvik/docpipe/internal/resilience"
)

const maxPromptChars = 24000

// Client talks to an OpenAI-compatible chat/completions endpoint. Each call
// enforces its own bounded timeout; transport failures go through the
// resilience executor.
type Client struct {
	cfg  common.ClassificationConfig
	http *http.Client
	exec *resilience.Executor
	log  *slog.Logger
}

func NewClient(cfg common.ClassificationConfig, exec *resilience.Executor, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if exec == nil {
		exec = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		exec: exec,
		log:  logger,
	}
}

func (c *Client) Classify(ctx context.Context, text string) (entity.Classification, error) {
	rid := uuid.New().String()
	start := time.Now()

	text = cutAtRune(text, maxPromptChars)

	c.log.Info("classify.request",
		"req_id", rid,
		"model", c.cfg.Model,
		"text_len", len(text),
	)

	schema := BuildClassificationJSONSchema()
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": buildSystemPrompt()},
			{"role": "user", "content": text + "\n\nReturn ONLY JSON that matches the provided schema."},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}

	var raw []byte
	err := c.exec.Execute(ctx, "classify", func(ctx context.Context) error {
		var httpErr error
		raw, httpErr = c.post(ctx, "/chat/completions", body)
		return httpErr
	}, retryableHTTP)
	if err != nil {
		c.log.Error("classify.http_error", "req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return entity.Classification{}, common.NewAppError(common.CodeClassificationFailed, "inference request failed", err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return entity.Classification{}, common.NewAppError(common.CodeClassificationFailed, "decode inference response", err)
	}
	if len(cc.Choices) == 0 {
		return entity.Classification{}, common.NewAppError(common.CodeClassificationFailed, "no choices in inference response", nil)
	}
	content := canonicalizeTagKeys([]byte(strings.TrimSpace(cc.Choices[0].Message.Content)))

	if err := ValidateJSONAgainstSchema(schema, content); err != nil {
		c.log.Error("classify.schema_validation_failed", "req_id", rid, "error", err)
		return entity.Classification{}, common.NewAppError(common.CodeClassificationFailed, "model output violates schema", err)
	}

	var parsed struct {
		Tags       map[string]string `json:"tags"`
		Summary    string            `json:"summary"`
		Confidence float64           `json:"confidence"`
	}
	if err := json.Unmarshal(content, &parsed); err != nil {
		return entity.Classification{}, common.NewAppError(common.CodeClassificationFailed, "decode model output", err)
	}

	cls := entity.Classification{
		Summary:    strings.TrimSpace(parsed.Summary),
		Confidence: parsed.Confidence,
		Model:      c.cfg.Model,
	}
	for _, cat := range constants.RequiredCategories() {
		cls.Tags = append(cls.Tags, entity.Tag{
			Category:   cat,
			Value:      strings.ToLower(strings.TrimSpace(parsed.Tags[string(cat)])),
			Confidence: parsed.Confidence,
		})
	}

	// The schema catches structure; the shape check catches semantics the
	// model can still get wrong, like a one-sentence summary.
	if err := ValidateShape(cls); err != nil {
		c.log.Error("classify.shape_invalid", "req_id", rid, "error", err)
		return entity.Classification{}, err
	}

	c.log.Info("classify.success",
		"req_id", rid,
		"confidence", cls.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return cls, nil
}

// Ping checks reachability with a minimal models listing.
func (c *Client) Ping(ctx context.Context) error {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("inference service returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	bs, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return raw, &httpStatusError{status: resp.StatusCode}
	}
	return raw, nil
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("non-2xx status: %d", e.status)
}

// retryableHTTP retries transport errors and 5xx/429; 4xx means the request
// itself is wrong and will not improve.
func retryableHTTP(err error) bool {
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.status >= 500 || se.status == http.StatusTooManyRequests
	}
	return true
}

// canonicalizeTagKeys rewrites synonym tag keys in raw model output to their
// canonical category names, so near-miss output like "document_type" still
// validates. Unparseable input is returned as is for the schema check to
// report.
func canonicalizeTagKeys(raw []byte) []byte {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw
	}
	var tags map[string]json.RawMessage
	if err := json.Unmarshal(doc["tags"], &tags); err != nil {
		return raw
	}

	out := make(map[string]json.RawMessage, len(tags))
	changed := false
	for k, v := range tags {
		if cat, ok := constants.CanonicalizeCategory(k); ok && string(cat) != k {
			out[string(cat)] = v
			changed = true
			continue
		}
		out[k] = v
	}
	if !changed {
		return raw
	}

	rewrittenTags, err := json.Marshal(out)
	if err != nil {
		return raw
	}
	doc["tags"] = rewrittenTags
	rewritten, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return rewritten
}

func buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a document cataloging assistant. Classify the document text you are given.\n")
	b.WriteString("Produce one value for each of these tag categories: ")
	cats := constants.RequiredCategories()
	for i, c := range cats {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(c))
	}
	b.WriteString(".\nWrite a summary of exactly two sentences. ")
	b.WriteString("Report your overall confidence between 0.0 and 1.0.")
	return b.String()
}

// cutAtRune truncates s to at most max bytes without splitting a rune.
func cutAtRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func mustJSON(v any) string {
	bs, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(bs)
}
