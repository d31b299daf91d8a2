// Package mailer delivers outbound email over SMTP and provides a
// recording implementation for tests and dry runs.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/adapter"
)

// Config holds SMTP transport settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPSender sends email through a single SMTP relay. Implements
// adapter.Sender for the "email" channel.
type SMTPSender struct {
	cfg  Config
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// New creates an SMTP sender.
func New(cfg Config) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg, send: smtp.SendMail}
}

func (s *SMTPSender) Name() string { return "smtp" }

// Send delivers one message. SMTP has no context support, so the dial and
// transfer run on a goroutine and the context governs how long we wait.
func (s *SMTPSender) Send(ctx context.Context, msg adapter.OutboundMessage) error {
	if msg.Recipient == "" {
		return adapter.Reject("empty recipient")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	raw := s.build(msg)
	done := make(chan error, 1)
	go func() {
		done <- s.send(addr, auth, s.cfg.From, []string{msg.Recipient}, raw)
	}()

	select {
	case err := <-done:
		if err != nil {
			if isHardRejection(err) {
				return adapter.Reject(err.Error())
			}
			return eris.Wrap(adapter.ErrProviderUnavailable, err.Error())
		}
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "mailer: send")
	}
}

func (s *SMTPSender) build(msg adapter.OutboundMessage) []byte {
	from := s.cfg.From
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.From)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

// isHardRejection detects 5xx SMTP replies that indicate the recipient
// will never accept the message.
func isHardRejection(err error) bool {
	s := err.Error()
	for _, code := range []string{"550", "551", "553", "554"} {
		if strings.Contains(s, code) {
			return true
		}
	}
	return false
}

// Recorder is an adapter.Sender that records messages instead of
// delivering them. Used in tests and dry runs.
type Recorder struct {
	mu   sync.Mutex
	sent []adapter.OutboundMessage
	// Fail, when set, is returned from Send instead of recording.
	Fail error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Send(_ context.Context, msg adapter.OutboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of everything recorded so far.
func (r *Recorder) Sent() []adapter.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]adapter.OutboundMessage, len(r.sent))
	copy(out, r.sent)
	return out
}
