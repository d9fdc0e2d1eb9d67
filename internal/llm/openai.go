// Package llm provides the language-model provider client used for all
// text and image generation.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/permaboost370/x-posting-bot/internal/httpkit"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultImageModel = "gpt-image-1"
)

// OpenAIClient talks to an OpenAI-compatible API (the native endpoint or
// an OpenRouter-style gateway selected via base URL).
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	imageModel string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a provider client. baseURL may be empty for
// the native OpenAI endpoint.
func NewOpenAIClient(apiKey, baseURL, model string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	// Generations can take a while before headers arrive, image calls
	// especially. No overall timeout; callers control lifetime via ctx.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		imageModel: defaultImageModel,
		logger:     logger.With("provider", "openai"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type imageGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

// errorResponse is the provider's error envelope.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// ChatComplete sends a chat completion request and returns the first
// choice's content.
func (c *OpenAIClient) ChatComplete(ctx context.Context, req ChatRequest) (string, error) {
	body := chatRequest{
		Model:       c.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var resp chatResponse
	if err := c.postJSON(ctx, "/chat/completions", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &APIError{StatusCode: http.StatusOK, Message: "chat completion returned no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateImage produces an image from a prompt and returns its bytes.
func (c *OpenAIClient) GenerateImage(ctx context.Context, req ImageRequest) ([]byte, error) {
	body := imageGenerateRequest{
		Model:  c.imageModel,
		Prompt: req.Prompt,
		Size:   req.Size,
	}

	var resp imageResponse
	if err := c.postJSON(ctx, "/images/generations", body, &resp); err != nil {
		return nil, err
	}
	return c.imageBytes(ctx, resp, "image generation")
}

// EditImage edits a reference image guided by a prompt, optionally
// constrained to the transparent region of a mask.
func (c *OpenAIClient) EditImage(ctx context.Context, req ImageEditRequest) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for field, value := range map[string]string{
		"model":  c.imageModel,
		"prompt": req.Prompt,
		"size":   req.Size,
	} {
		if value == "" {
			continue
		}
		if err := w.WriteField(field, value); err != nil {
			return nil, fmt.Errorf("write form field %s: %w", field, err)
		}
	}

	part, err := w.CreateFormFile("image", "reference.png")
	if err != nil {
		return nil, fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, fmt.Errorf("write image part: %w", err)
	}

	if len(req.Mask) > 0 {
		mask, err := w.CreateFormFile("mask", "mask.png")
		if err != nil {
			return nil, fmt.Errorf("create mask part: %w", err)
		}
		if _, err := mask.Write(req.Mask); err != nil {
			return nil, fmt.Errorf("write mask part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/edits", &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	var resp imageResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return c.imageBytes(ctx, resp, "image edit")
}

// imageBytes extracts image bytes from a response: inline base64 when
// the provider sends it, otherwise a follow-up download of the URL.
func (c *OpenAIClient) imageBytes(ctx context.Context, resp imageResponse, label string) ([]byte, error) {
	if len(resp.Data) == 0 {
		return nil, &APIError{StatusCode: http.StatusOK, Message: label + ": empty response"}
	}
	if b64 := resp.Data[0].B64JSON; b64 != "" {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("%s: decode b64_json: %w", label, err)
		}
		return raw, nil
	}
	if url := resp.Data[0].URL; url != "" {
		return c.download(ctx, url)
	}
	return nil, &APIError{StatusCode: http.StatusOK, Message: label + ": neither b64_json nor url in response"}
}

func (c *OpenAIClient) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// postJSON marshals body, POSTs it to path, and decodes the response
// into out. Non-2xx responses become *APIError.
func (c *OpenAIClient) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(req, out)
}

func (c *OpenAIClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.apiError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError builds an *APIError from a non-2xx response, preserving the
// provider's code and type for classification.
func (c *OpenAIClient) apiError(resp *http.Response) error {
	body := httpkit.ReadErrorBody(resp.Body, 4096)

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: body}
	var envelope errorResponse
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Code = envelope.Error.Code
		apiErr.Type = envelope.Error.Type
	}

	c.logger.Debug("provider error response",
		"status", resp.StatusCode,
		"code", apiErr.Code,
		"type", apiErr.Type,
	)
	return apiErr
}
