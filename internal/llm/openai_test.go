package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient("test-key", srv.URL, "test-model", nil)
}

func TestChatComplete(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("expected model test-model, got %s", req.Model)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "Ship fast."}},
			},
		})
	})

	got, err := client.ChatComplete(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "write a post"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Ship fast." {
		t.Errorf("expected content, got %q", got)
	}
}

func TestChatCompleteEmptyChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})

	_, err := client.ChatComplete(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestRateLimitErrorClassification(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_exceeded","code":"rate_limit_exceeded"}}`)
	})

	_, err := client.ChatComplete(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != 429 || apiErr.Type != "rate_limit_exceeded" {
		t.Errorf("unexpected error fields: %+v", apiErr)
	}
	if !IsRateLimit(err) {
		t.Error("429 should classify as rate limit")
	}
	if IsTransient(err) {
		t.Error("429 should not classify as transient")
	}
}

func TestQuotaErrorClassification(t *testing.T) {
	err := error(&APIError{StatusCode: 403, Code: "insufficient_quota"})
	if !IsRateLimit(err) {
		t.Error("insufficient_quota should classify as rate limit")
	}
}

func TestTransientErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{500, true},
		{502, true},
		{408, true},
		{400, false},
		{401, false},
	}
	for _, tt := range tests {
		err := error(&APIError{StatusCode: tt.status})
		if got := IsTransient(err); got != tt.want {
			t.Errorf("IsTransient(HTTP %d) = %v, want %v", tt.status, got, tt.want)
		}
	}

	if IsTransient(errors.New("some random failure")) {
		t.Error("unclassified errors are not transient")
	}
}

func TestGenerateImageInlineBase64(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{
				{"b64_json": base64.StdEncoding.EncodeToString(png)},
			},
		})
	})

	got, err := client.GenerateImage(context.Background(), ImageRequest{Prompt: "a lighthouse", Size: "1024x1024"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(png) {
		t.Errorf("image bytes mismatch: %v", got)
	}
}

func TestGenerateImageEmptyResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	})

	_, err := client.GenerateImage(context.Background(), ImageRequest{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error for empty image response")
	}
}

func TestEditImageSendsMultipart(t *testing.T) {
	png := []byte("fake-image-bytes")
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/edits" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("prompt"); got != "repaint the sky" {
			t.Errorf("unexpected prompt %q", got)
		}
		if _, _, err := r.FormFile("image"); err != nil {
			t.Errorf("missing image part: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{
				{"b64_json": base64.StdEncoding.EncodeToString(png)},
			},
		})
	})

	got, err := client.EditImage(context.Background(), ImageEditRequest{
		Prompt: "repaint the sky",
		Image:  []byte("ref"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(png) {
		t.Errorf("image bytes mismatch")
	}
}
