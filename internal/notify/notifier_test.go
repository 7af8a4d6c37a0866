package notify

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeSender struct {
	name   string
	titles []string
	err    error
}

func (s *fakeSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *fakeSender) Name() string { return s.name }

func TestNotifyFiltersByEventType(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"order_completed"}, slog.Default())

	if err := n.Notify(context.Background(), "wallet_update", "w", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := n.Notify(context.Background(), "order_completed", "o", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.titles) != 1 || s.titles[0] != "o" {
		t.Fatalf("expected only the allowed event to pass, got %v", s.titles)
	}
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	broken := &fakeSender{name: "broken", err: context.DeadlineExceeded}
	ok := &fakeSender{name: "ok"}
	n := NewNotifier([]Sender{broken, ok}, nil, slog.Default())

	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected combined error naming the failed sender, got %v", err)
	}
	if len(ok.titles) != 1 {
		t.Fatal("healthy sender must still receive the notification")
	}
}

func TestDiscordSenderRequest(t *testing.T) {
	var gotAgent, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	if err := d.Send(context.Background(), "Order filled", "tBTCUSD"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAgent != userAgent {
		t.Fatalf("expected user agent %q, got %q", userAgent, gotAgent)
	}
	if !strings.Contains(gotBody, "Order filled") {
		t.Fatalf("payload missing title: %s", gotBody)
	}
}
