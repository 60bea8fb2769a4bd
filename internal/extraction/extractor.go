package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrMalformed indicates the model's reply was not the required single-key
// JSON object. Callers fall back to the raw transcript.
var ErrMalformed = errors.New("extraction response is malformed")

// Completer is the LLM backend used by the extractor.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Extractor distills one field value from a question/transcript pair.
type Extractor struct {
	completer Completer
	logger    *slog.Logger
}

// NewExtractor creates an extractor backed by the given completer.
func NewExtractor(completer Completer, logger *slog.Logger) *Extractor {
	return &Extractor{
		completer: completer,
		logger:    logger,
	}
}

// Extract asks the model for the field value under fieldKey. A transport
// or backend failure is returned as-is; a reply that parses but is not a
// single-key object with the expected key returns ErrMalformed.
func (e *Extractor) Extract(ctx context.Context, questionText, fieldKey, transcript string) (string, error) {
	content, err := e.completer.Complete(ctx, systemPrompt, buildUserPrompt(questionText, fieldKey, transcript))
	if err != nil {
		return "", fmt.Errorf("extraction request failed: %w", err)
	}

	value, err := parseSingleKey(content, fieldKey)
	if err != nil {
		e.logger.Warn("Extraction response did not match expected shape",
			slog.String("field_key", fieldKey),
			slog.String("error", err.Error()),
			slog.Int("content_length", len(content)),
		)
		return "", err
	}

	return value, nil
}

// parseSingleKey parses the model reply into the expected single-key object
// and returns the value under fieldKey.
func parseSingleKey(content, fieldKey string) (string, error) {
	cleaned := cleanJSONResponse(content)

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return "", fmt.Errorf("%w: not valid JSON: %v", ErrMalformed, err)
	}

	if len(parsed) != 1 {
		return "", fmt.Errorf("%w: expected exactly one key, got %d", ErrMalformed, len(parsed))
	}

	raw, ok := parsed[fieldKey]
	if !ok {
		return "", fmt.Errorf("%w: missing expected key %q", ErrMalformed, fieldKey)
	}

	var value string
	switch v := raw.(type) {
	case string:
		value = v
	case float64, bool:
		value = fmt.Sprint(v)
	default:
		return "", fmt.Errorf("%w: value under %q is not a scalar", ErrMalformed, fieldKey)
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: empty value under %q", ErrMalformed, fieldKey)
	}

	return value, nil
}

// cleanJSONResponse strips markdown code fences models often wrap JSON in.
func cleanJSONResponse(content string) string {
	cleaned := strings.TrimSpace(content)

	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
	}

	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")

	return strings.TrimSpace(cleaned)
}
