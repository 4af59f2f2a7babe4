package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/lotas/studzo/internal/types"
)

func TestCallPostsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/v1/ai/job-scam-check" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["text"] != "pay a deposit first" {
			t.Errorf("text = %q", body["text"])
		}
		w.Write([]byte(`{"risk_level":"High"}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL + "/api/v1/"})
	raw, err := c.Call(context.Background(), http.MethodPost, "/ai/job-scam-check", map[string]string{"text": "pay a deposit first"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(raw) != `{"risk_level":"High"}` {
		t.Errorf("raw = %q", raw)
	}
}

func TestCallNonSuccessIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	_, err := c.Call(context.Background(), http.MethodPost, "/ai/lease-analysis", map[string]string{"text": "x"})
	if types.KindOf(err) != types.KindTransportFailure {
		t.Fatalf("err = %v, want transport failure", err)
	}
	var te *types.Error
	errors.As(err, &te)
	if te.Raw == "" {
		t.Error("expected response snippet in Raw")
	}
}

func TestCallOversizedBody(t *testing.T) {
	body := `{"text":"` + strings.Repeat("a", maxBodySize) + `"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	raw, err := c.Call(context.Background(), http.MethodGet, "/ai/analytics", nil)
	if types.KindOf(err) != types.KindTransportFailure {
		t.Fatalf("err = %v (%d bytes), want transport failure", err, len(raw))
	}
	if !strings.Contains(err.Error(), "exceeds") {
		t.Errorf("err = %v", err)
	}
}

func TestCallBodyAtLimit(t *testing.T) {
	body := `"` + strings.Repeat("a", maxBodySize-2) + `"`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	raw, err := c.Call(context.Background(), http.MethodGet, "/ai/analytics", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(raw) != maxBodySize {
		t.Errorf("len = %d, want %d", len(raw), maxBodySize)
	}
}

func TestErrorSnippetKeepsUTF8(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(strings.Repeat("a", maxErrorSnippet-1) + "é and more"))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	_, err := c.Call(context.Background(), http.MethodGet, "/ai/analytics", nil)
	var te *types.Error
	if !errors.As(err, &te) {
		t.Fatalf("err = %v", err)
	}
	if !utf8.ValidString(te.Raw) || len(te.Raw) != maxErrorSnippet-1 {
		t.Errorf("snippet len = %d valid = %v", len(te.Raw), utf8.ValidString(te.Raw))
	}
}

func TestCallUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(Options{BaseURL: url})
	_, err := c.Call(context.Background(), http.MethodGet, "/ai/analytics", nil)
	if types.KindOf(err) != types.KindTransportFailure {
		t.Fatalf("err = %v, want transport failure", err)
	}
}

func TestCallCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(Options{BaseURL: srv.URL})
	if _, err := c.Call(ctx, http.MethodGet, "/ai/analytics", nil); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestInvokeResolvesURL(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var fetched string
	c := New(Options{
		BaseURL: srv.URL,
		Fetch: func(_ context.Context, url string) (string, string, error) {
			fetched = url
			return "Offer", "Send us 200 EUR to secure the job", nil
		},
	})
	_, mode, err := Lookup("jobs", "scam-check")
	if err != nil {
		t.Fatal(err)
	}
	in := Input{Fields: map[string]string{"url": "https://jobs.example/offer"}}
	if _, err := c.Invoke(context.Background(), mode, in); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if fetched != "https://jobs.example/offer" {
		t.Errorf("fetched = %q", fetched)
	}
	if got["text"] != "Send us 200 EUR to secure the job" {
		t.Errorf("text sent = %q", got["text"])
	}
	if _, ok := in.Fields["text"]; ok {
		t.Error("input snapshot was mutated")
	}
}

func TestInvokeFetchFailure(t *testing.T) {
	c := New(Options{
		BaseURL: "http://unused.invalid",
		Fetch: func(context.Context, string) (string, string, error) {
			return "", "", errors.New("dns")
		},
	})
	_, mode, _ := Lookup("finance", "scam-check")
	_, err := c.Invoke(context.Background(), mode, Input{Fields: map[string]string{"url": "https://x"}})
	if types.KindOf(err) != types.KindTransportFailure {
		t.Errorf("err = %v, want transport failure", err)
	}
}

func TestInvokeGetHasNoBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/ai/analytics" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		if r.ContentLength > 0 {
			t.Errorf("unexpected body of %d bytes", r.ContentLength)
		}
		w.Write([]byte(`{"total_requests":3}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	_, mode, _ := Lookup("insights", "analytics")
	if _, err := c.Invoke(context.Background(), mode, Input{}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
}

func TestSendNotification(t *testing.T) {
	var got notificationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ai/send-notification" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL})
	if err := c.SendNotification(context.Background(), 7, "Match found", ""); err != nil {
		t.Fatalf("SendNotification: %v", err)
	}
	if got.UserID != 7 || got.Message != "Match found" || got.Type != "info" {
		t.Errorf("request = %+v", got)
	}
}
