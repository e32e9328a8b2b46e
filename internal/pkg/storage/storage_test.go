package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestLocalStore(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	if _, err := s.Get(ctx, "webhooks/missing.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v", err)
	}
	if err := s.Put(ctx, "webhooks/2026/01/02/evt_1.json", []byte(`{"id":"evt_1"}`), "application/json"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "webhooks/2026/01/02/evt_1.json")
	if err != nil || string(got) != `{"id":"evt_1"}` {
		t.Fatalf("Get = %q, %v", got, err)
	}

	for _, bad := range []string{"../escape", "/abs/path", "", ".."} {
		if err := s.Put(ctx, bad, []byte("x"), ""); err == nil {
			t.Errorf("Put(%q) accepted", bad)
		}
	}
}

// fakeS3 is a minimal path-style bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		_, _ = w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Store_PutGet(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	s, err := NewS3Store(context.Background(), S3Config{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		Bucket:          "archive",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	ctx := context.Background()

	if err := s.Put(ctx, "webhooks/evt_1.json", []byte(`{"id":"evt_1"}`), "application/json"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if body := string(fake.objects["/archive/webhooks/evt_1.json"]); !strings.Contains(body, `"evt_1"`) {
		t.Fatalf("stored body = %q", body)
	}

	got, err := s.Get(ctx, "webhooks/evt_1.json")
	if err != nil || !strings.Contains(string(got), "evt_1") {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if _, err := s.Get(ctx, "webhooks/none.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing = %v", err)
	}
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), S3Config{}); err == nil {
		t.Fatal("expected error without bucket")
	}
}
