package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// EmailSubject is the subject line of every alert email
const EmailSubject = "Abandoned Bag Alert!"

// ErrRateLimited is returned when an alert email is throttled
var ErrRateLimited = errors.New("email rate limit exceeded")

// EmailConfig configures the SMTP sink
type EmailConfig struct {
	Host         string
	Port         int
	Username     string
	Password     string
	From         string
	To           []string
	MaxPerMinute int
}

// sendFunc matches smtp.SendMail
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends one message per alert through an SMTP relay. SendMail
// upgrades the connection with STARTTLS when the server offers it.
type Email struct {
	cfg     EmailConfig
	limiter *rate.Limiter
	send    sendFunc
	now     func() time.Time
}

// NewEmail creates the email sink. A MaxPerMinute of zero or less sends
// every alert.
func NewEmail(cfg EmailConfig) *Email {
	e := &Email{
		cfg:  cfg,
		send: smtp.SendMail,
		now:  time.Now,
	}
	if perMinute := cfg.MaxPerMinute; perMinute > 0 {
		e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return e
}

// Name implements Sink
func (e *Email) Name() string { return "email" }

// Alert implements Sink
func (e *Email) Alert(_ context.Context, alert Alert) error {
	if len(e.cfg.To) == 0 {
		return errors.New("no email recipients configured")
	}
	if e.limiter != nil && !e.limiter.Allow() {
		return ErrRateLimited
	}

	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	if err := e.send(addr, auth, e.cfg.From, e.cfg.To, e.message(alert)); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}

// EmailBody is the plain-text body for an alert
func EmailBody(alert Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "An abandoned bag (ID: %d) was detected at frame %d.\r\n", alert.TrackID, alert.FrameNumber)
	fmt.Fprintf(&b, "Camera: %s\r\n", alert.CameraID)
	if alert.SnapshotPath != "" {
		fmt.Fprintf(&b, "Snapshot: %s\r\n", alert.SnapshotPath)
	}
	return b.String()
}

func (e *Email) message(alert Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", EmailSubject)
	fmt.Fprintf(&b, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(EmailBody(alert))
	return []byte(b.String())
}
