package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hamed0406/opswatch/internal/domain"
)

func TestSlack_OK(t *testing.T) {
	var got slackPayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(200)
	}))
	defer ts.Close()

	s := NewSlack(ts.URL)
	if s == nil {
		t.Fatal("expected slack client")
	}
	err := s.Send(context.Background(), Message{Title: "disk CRITICAL", Text: "/home at 95%", Verdict: domain.Critical})
	if err != nil {
		t.Fatalf("send err: %v", err)
	}
	if got.Text != "*disk CRITICAL*" {
		t.Fatalf("payload text not as expected: %q", got.Text)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Color != "danger" {
		t.Fatalf("attachment not as expected: %+v", got.Attachments)
	}
}

func TestSlack_Non2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer ts.Close()

	if err := NewSlack(ts.URL).Send(context.Background(), Message{Title: "X"}); err == nil {
		t.Fatalf("expected error on non-2xx")
	}
}

func TestSlack_Disabled(t *testing.T) {
	var s *Slack = NewSlack("")
	if err := s.Send(context.Background(), Message{}); !errors.Is(err, ErrSlackDisabled) {
		t.Fatalf("want ErrSlackDisabled, got %v", err)
	}
}

type countNotifier struct {
	n   int
	err error
}

func (c *countNotifier) Send(context.Context, Message) error {
	c.n++
	return c.err
}

func TestMulti_SendsToAllAndCombinesErrors(t *testing.T) {
	a := &countNotifier{err: errors.New("a down")}
	b := &countNotifier{}
	c := &countNotifier{err: errors.New("c down")}
	err := Multi{a, nil, b, c}.Send(context.Background(), Message{Title: "t"})
	if a.n != 1 || b.n != 1 || c.n != 1 {
		t.Fatalf("not every notifier called: %d %d %d", a.n, b.n, c.n)
	}
	if err == nil || err.Error() != "a down; c down" {
		t.Fatalf("want combined error, got %v", err)
	}
}
