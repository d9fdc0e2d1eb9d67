package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetUpdates(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"ok":true,"result":[
			{"update_id":10,"message":{"message_id":1,"chat":{"id":42},"text":"/health"}},
			{"update_id":11}
		]}`))
	}))
	defer srv.Close()

	c := NewClient("TOKEN", nil)
	c.apiBase = srv.URL

	updates, err := c.GetUpdates(context.Background(), 5, 30*time.Second)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if gotPath != "/botTOKEN/getUpdates" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["offset"].(float64) != 5 || gotBody["timeout"].(float64) != 30 {
		t.Errorf("body = %v", gotBody)
	}
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
	if updates[0].Message == nil || updates[0].Message.Chat.ID != 42 || updates[0].Message.Text != "/health" {
		t.Errorf("first update = %+v", updates[0])
	}
	if updates[1].Message != nil {
		t.Error("second update should have no message")
	}
}

func TestSendMessage(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	c := NewClient("TOKEN", nil)
	c.apiBase = srv.URL

	if err := c.SendMessage(context.Background(), 42, "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if gotBody["chat_id"].(float64) != 42 || gotBody["text"] != "hello" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	c := NewClient("BAD", nil)
	c.apiBase = srv.URL

	err := c.SendMessage(context.Background(), 42, "hello")
	if err == nil {
		t.Fatal("expected error")
	}
}
