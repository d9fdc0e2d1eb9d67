package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Message is a single chat message in provider wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest describes one chat completion call.
type ChatRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// ImageRequest describes one image generation call.
type ImageRequest struct {
	Prompt string
	Size   string // e.g. "1024x1024"
}

// ImageEditRequest describes an image edit against a reference image,
// optionally constrained by a mask.
type ImageEditRequest struct {
	Prompt string
	Size   string
	Image  []byte // reference image bytes
	Mask   []byte // optional PNG mask
}

// Client is the LLM provider surface the schedulers consume. Fakes
// implement it in tests.
type Client interface {
	// ChatComplete returns the first choice's message content.
	ChatComplete(ctx context.Context, req ChatRequest) (string, error)

	// GenerateImage returns the generated image bytes (PNG).
	GenerateImage(ctx context.Context, req ImageRequest) ([]byte, error)

	// EditImage returns the edited image bytes (PNG).
	EditImage(ctx context.Context, req ImageEditRequest) ([]byte, error)
}

// APIError is a non-2xx response from the provider, carrying enough
// detail for the resilience layer to classify it.
type APIError struct {
	StatusCode int
	Code       string // provider error code, e.g. "insufficient_quota"
	Type       string // provider error type, e.g. "rate_limit_exceeded"
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider HTTP %d", e.StatusCode)
}

// IsRateLimit reports whether err indicates the provider is refusing
// calls for quota or rate-limit reasons. These errors will keep
// happening for a while; retrying immediately only burns attempts.
func IsRateLimit(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == 429 ||
		apiErr.Code == "insufficient_quota" ||
		apiErr.Type == "rate_limit_exceeded"
}

// IsTransient reports whether err is likely to succeed on a near-term
// retry: provider 5xx or 408 responses, request timeouts, and reset or
// timed-out connections.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 408
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.ETIMEDOUT:
			return true
		}
	}

	return false
}
