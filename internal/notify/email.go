package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"charactercam/server/internal/runner"
)

// EmailNotifier sends the completion email over plain SMTP. It is wired as
// the runner's fire-and-forget side effect; delivery failures surface as
// returned errors that the runner logs and swallows.
type EmailNotifier struct {
	addr           string
	from           string
	storageBaseURL string
}

// NewEmailNotifier configures SMTP delivery. addr is host:port; an empty
// addr yields a nil notifier so callers can wire it unconditionally.
func NewEmailNotifier(addr, from, storageBaseURL string) *EmailNotifier {
	if strings.TrimSpace(addr) == "" {
		return nil
	}
	return &EmailNotifier{addr: addr, from: from, storageBaseURL: strings.TrimRight(storageBaseURL, "/")}
}

// GenerationCompleted emails the owner a link to the finished video.
func (n *EmailNotifier) GenerationCompleted(ctx context.Context, note runner.Notification) error {
	if n == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, body := BuildMessage(note, n.storageBaseURL)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		n.from, note.To, subject, body)
	if err := smtp.SendMail(n.addr, nil, n.from, []string{note.To}, []byte(msg)); err != nil {
		return fmt.Errorf("notify: send mail: %w", err)
	}
	return nil
}

// BuildMessage renders the subject and body for a completion email.
func BuildMessage(note runner.Notification, storageBaseURL string) (string, string) {
	character := note.CharacterName
	if character == "" {
		character = "your character"
	}
	subject := "Your video is ready"
	if note.CharacterName != "" {
		subject = fmt.Sprintf("Your %s video is ready", note.CharacterName)
	}
	link := note.ResultKey
	if storageBaseURL != "" {
		link = storageBaseURL + "/" + strings.TrimLeft(note.ResultKey, "/")
	}
	body := fmt.Sprintf("Your video featuring %s has finished generating.\n\nWatch it here: %s\n", character, link)
	return subject, body
}

var _ runner.Notifier = (*EmailNotifier)(nil)
