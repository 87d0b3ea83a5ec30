package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"

	"BreachWatch/internal/domain"
	"BreachWatch/internal/metrics"
	"BreachWatch/internal/ports"
)

// Sender is the transport half of gomail.Dialer.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// PasswordSource yields the SMTP password at send time.
type PasswordSource interface {
	SMTPPassword(ctx context.Context) (string, error)
}

// Options configures the SMTP notifier.
type Options struct {
	Host               string
	Port               int
	Username           string
	SenderAddress      string
	SenderName         string
	InsecureSkipVerify bool
	Logger             *slog.Logger
}

// Notifier sends breach alerts and scan summaries over SMTP.
type Notifier struct {
	opts      Options
	passwords PasswordSource
	dial      func(password string) Sender
	logger    *slog.Logger
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier fills sender defaults; the password is resolved per message.
func NewNotifier(opts Options, passwords PasswordSource) *Notifier {
	if opts.SenderAddress == "" {
		opts.SenderAddress = "noreply@breachwatch.local"
	}
	if opts.SenderName == "" {
		opts.SenderName = "BreachWatch"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	n := &Notifier{
		opts:      opts,
		passwords: passwords,
		logger:    logger.With("component", "mailer", "host", opts.Host),
	}
	n.dial = func(password string) Sender {
		d := gomail.NewDialer(opts.Host, opts.Port, opts.Username, password)
		if opts.InsecureSkipVerify {
			d.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
		}
		return d
	}
	return n
}

// SendBreachAlert sends one message listing every breach in the alert.
func (n *Notifier) SendBreachAlert(ctx context.Context, alert domain.BreachAlert) error {
	msg, err := RenderAlert(n.opts.SenderName, alert)
	if err != nil {
		return err
	}
	return n.send(ctx, "alert", alert.To, msg)
}

// SendScanSummary sends the end-of-run report.
func (n *Notifier) SendScanSummary(ctx context.Context, summary domain.ScanSummary) error {
	msg, err := RenderSummary(n.opts.SenderName, summary)
	if err != nil {
		return err
	}
	return n.send(ctx, "summary", summary.To, msg)
}

func (n *Notifier) send(ctx context.Context, kind, to string, rendered Rendered) error {
	if to == "" {
		return domain.ErrMissingRecipient
	}
	if n.opts.Host == "" {
		return fmt.Errorf("smtp host not configured")
	}

	password, err := n.passwords.SMTPPassword(ctx)
	if err != nil {
		return fmt.Errorf("load smtp password: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", n.opts.SenderAddress, n.opts.SenderName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", rendered.Subject)
	msg.SetBody("text/plain", rendered.Text)
	msg.AddAlternative("text/html", rendered.HTML)

	// One attempt per call. Unsent breaches stay pending and go out with the next
	// run's recovery pass.
	if err := n.dial(password).DialAndSend(msg); err != nil {
		metrics.Notifications.WithLabelValues(kind, "failed").Inc()
		n.logger.Warn("mail send failed", "kind", kind, "error", err)
		return fmt.Errorf("send %s mail: %w", kind, err)
	}
	n.logger.Info("mail sent", "kind", kind)
	metrics.Notifications.WithLabelValues(kind, "sent").Inc()
	return nil
}
