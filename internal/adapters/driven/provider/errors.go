package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/storekb/internal/core/domain"
)

// maxErrorBody caps how much of an error response is quoted in errors.
const maxErrorBody = 512

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether a status code is worth retrying.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status >= http.StatusInternalServerError
}

// classify turns a failed response into a transient or fatal provider error.
func classify(name, op string, status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Message: errorMessage(body)}

	var err error = apiErr
	switch {
	case QuotaExhausted(body):
		err = fmt.Errorf("%w: %w", domain.ErrQuotaExceeded, apiErr)
		return &domain.FatalProviderError{Provider: name, Op: op, StatusCode: status, Err: err}
	case status == http.StatusTooManyRequests:
		err = fmt.Errorf("%w: %w", domain.ErrRateLimited, apiErr)
	}

	if Retryable(status) {
		return &domain.TransientProviderError{Provider: name, Op: op, StatusCode: status, Err: err}
	}
	return &domain.FatalProviderError{Provider: name, Op: op, StatusCode: status, Err: err}
}

// QuotaExhausted reports whether an error body says the account is out of
// quota, e.g. OpenAI's 429 with "code":"insufficient_quota". Such responses
// share a status with plain rate limiting but never succeed on retry.
func QuotaExhausted(body []byte) bool {
	var nested struct {
		Error struct {
			Type string          `json:"type"`
			Code json.RawMessage `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) != nil {
		return false
	}
	return mentionsQuota(nested.Error.Type) || mentionsQuota(string(nested.Error.Code))
}

func mentionsQuota(s string) bool {
	return strings.Contains(strings.ToLower(s), "quota")
}

// errorMessage extracts a readable message from common provider error shapes:
// {"error":{"message":"..."}}, {"error":"..."} and {"message":"..."}.
func errorMessage(body []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}

	var flat struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &flat) == nil {
		if flat.Error != "" {
			return flat.Error
		}
		if flat.Message != "" {
			return flat.Message
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	if msg == "" {
		msg = "empty response body"
	}
	return msg
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return at.Sub(now)
	}
	return 0
}

// IsStatus reports whether err carries an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}
