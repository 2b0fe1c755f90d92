package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"clinicore.org/internal/obs"
)

const defaultSendTimeout = 5 * time.Second

// EmailSender dispatches messages through an HTTP mail API. Delivery is
// fire-and-forget: a failure is reported to the caller but never retried
// here.
type EmailSender struct {
	url    string
	apiKey string
	from   string
	client *http.Client
}

// NewEmailSender constructs a sender for the given mail API endpoint. Every
// request is bounded by a short timeout so a slow mail provider cannot stall
// the request worker that triggered the send.
func NewEmailSender(url, apiKey, from string) *EmailSender {
	return &EmailSender{
		url:    strings.TrimSpace(url),
		apiKey: strings.TrimSpace(apiKey),
		from:   strings.TrimSpace(from),
		client: &http.Client{Timeout: defaultSendTimeout},
	}
}

type emailAddress struct {
	Email string `json:"email"`
}

type emailRequest struct {
	From    emailAddress   `json:"from"`
	To      []emailAddress `json:"to"`
	Subject string         `json:"subject"`
	Text    string         `json:"text"`
}

// Send posts the message to the mail API.
func (s *EmailSender) Send(ctx context.Context, destination, subject, body string) error {
	if s.url == "" {
		return fmt.Errorf("notify: mail API url is not configured")
	}
	payload, err := json.Marshal(emailRequest{
		From:    emailAddress{Email: s.from},
		To:      []emailAddress{{Email: destination}},
		Subject: subject,
		Text:    body,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: mail API returned %d", resp.StatusCode)
	}
	return nil
}

// LogSender writes messages to the service log instead of dispatching them.
// Used when no mail API is configured (local development and tests).
type LogSender struct{}

func (LogSender) Send(ctx context.Context, destination, subject, body string) error {
	obs.LogEvent("info", "notification_logged", map[string]any{
		"destination": destination,
		"subject":     subject,
	})
	return nil
}
