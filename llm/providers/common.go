// Package providers holds shared helpers for the concrete LLM provider
// adapters under llm/providers/.
package providers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/donlaur/Engify-AI-App-sub000/llm"
)

// MapHTTPError converts an upstream HTTP failure into a structured llm.Error.
// The mapping is what the fallback controller keys off: 429 and quota-flavored
// 400s are availability errors, 404/permission failures are permanent request
// errors, 5xx are transient.
func MapHTTPError(status int, msg, provider string) *llm.Error {
	switch status {
	case http.StatusUnauthorized:
		return &llm.Error{Code: llm.ErrUnauthorized, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusForbidden:
		return &llm.Error{Code: llm.ErrForbidden, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusNotFound:
		return &llm.Error{Code: llm.ErrModelNotFound, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusTooManyRequests:
		msgLower := strings.ToLower(msg)
		if strings.Contains(msgLower, "quota") || strings.Contains(msgLower, "billing") ||
			strings.Contains(msgLower, "exceeded your current") {
			return &llm.Error{Code: llm.ErrQuotaExceeded, Message: msg, HTTPStatus: status, Provider: provider}
		}
		return &llm.Error{Code: llm.ErrRateLimited, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case http.StatusBadRequest:
		msgLower := strings.ToLower(msg)
		if strings.Contains(msgLower, "quota") || strings.Contains(msgLower, "credit") ||
			strings.Contains(msgLower, "billing") {
			return &llm.Error{Code: llm.ErrQuotaExceeded, Message: msg, HTTPStatus: status, Provider: provider}
		}
		if strings.Contains(msgLower, "model") &&
			(strings.Contains(msgLower, "not found") || strings.Contains(msgLower, "does not exist") ||
				strings.Contains(msgLower, "not permitted")) {
			return &llm.Error{Code: llm.ErrModelNotFound, Message: msg, HTTPStatus: status, Provider: provider}
		}
		return &llm.Error{Code: llm.ErrInvalidRequest, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusGatewayTimeout:
		return &llm.Error{Code: llm.ErrUpstreamTimeout, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case http.StatusServiceUnavailable, http.StatusBadGateway, 529:
		return &llm.Error{Code: llm.ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	default:
		if status >= 500 {
			return &llm.Error{Code: llm.ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
		}
		return &llm.Error{Code: llm.ErrInvalidRequest, Message: msg, HTTPStatus: status, Provider: provider}
	}
}

// ReadErrorMessage pulls a human-readable message out of an error response
// body, tolerating both {"error":{"message":...}} and plain-text bodies.
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 8192))
	if err != nil || len(data) == 0 {
		return "upstream error"
	}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &envelope) == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return strings.TrimSpace(string(data))
}

// ChooseModel picks the request model, falling back to the configured default.
func ChooseModel(requested, defaultModel string) string {
	if requested != "" {
		return requested
	}
	return defaultModel
}
