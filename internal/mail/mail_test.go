package mail

import (
	"context"
	"strings"
	"testing"
)

func TestFormat(t *testing.T) {
	raw := string(format("no-reply@sheets", Message{To: "a@b.co", Subject: "Reset", Body: "line one\nline two"}))
	for _, want := range []string{"From: no-reply@sheets\r\n", "To: a@b.co\r\n", "Subject: Reset\r\n", "\r\n\r\nline one\r\nline two"} {
		if !strings.Contains(raw, want) {
			t.Fatalf("message missing %q:\n%s", want, raw)
		}
	}
}

func TestSMTPSenderHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &SMTPSender{Addr: "127.0.0.1:1"}
	if err := s.Send(ctx, Message{To: "a@b.co"}); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
