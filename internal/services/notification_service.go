package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"sync"
	"text/template"
	"time"

	"github.com/BradenHooton/torneo/internal/metrics"
	"github.com/BradenHooton/torneo/internal/models"
	"github.com/BradenHooton/torneo/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Notifier delivers account-security messages to users.
type Notifier interface {
	SendUnlockCode(ctx context.Context, to, name, code string, lockedUntil, codeExpiresAt time.Time) error
	SendVerificationEmail(ctx context.Context, to, token string, expiresAt time.Time) error
}

// Message is one outbound email.
type Message struct {
	Kind    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer transports a composed Message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailNotifier renders notifications and hands them to a Mailer.
type MailNotifier struct {
	mailer  Mailer
	baseURL string
}

func NewMailNotifier(mailer Mailer, baseURL string) *MailNotifier {
	return &MailNotifier{mailer: mailer, baseURL: baseURL}
}

var (
	unlockText = template.Must(template.New("unlock").Parse(`Hi {{.Name}},

Your torneo account was locked after too many failed sign-in attempts.
It unlocks automatically at {{.LockedUntil}}.

To unlock it now, enter this code: {{.Code}}
The code expires at {{.ExpiresAt}}.

If this wasn't you, consider changing your password once you are back in.
`))

	unlockHTML = htmltemplate.Must(htmltemplate.New("unlock").Parse(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<p>Hi {{.Name}},</p>
<p>Your torneo account was locked after too many failed sign-in attempts.
It unlocks automatically at <strong>{{.LockedUntil}}</strong>.</p>
<p>To unlock it now, enter this code:</p>
<p style="font-size: 28px; letter-spacing: 6px;"><strong>{{.Code}}</strong></p>
<p>The code expires at {{.ExpiresAt}}.</p>
<p style="color: #666; font-size: 12px;">If this wasn't you, consider changing your password once you are back in.</p>
</body></html>`))

	verifyText = template.Must(template.New("verify").Parse(`Welcome to torneo!

Confirm your email address by opening this link:

{{.Link}}

The link expires at {{.ExpiresAt}}. If you didn't sign up, ignore this email.
`))

	verifyHTML = htmltemplate.Must(htmltemplate.New("verify").Parse(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<p>Welcome to torneo!</p>
<p><a href="{{.Link}}">Confirm your email address</a></p>
<p>Or paste this link in your browser:<br><code>{{.Link}}</code></p>
<p style="color: #666; font-size: 12px;">The link expires at {{.ExpiresAt}}. If you didn't sign up, ignore this email.</p>
</body></html>`))
)

func render(text *template.Template, html *htmltemplate.Template, data any) (string, string, error) {
	var tb, hb bytes.Buffer
	if err := text.Execute(&tb, data); err != nil {
		return "", "", err
	}
	if err := html.Execute(&hb, data); err != nil {
		return "", "", err
	}
	return tb.String(), hb.String(), nil
}

const timeLayout = "2006-01-02 15:04 MST"

func (n *MailNotifier) SendUnlockCode(ctx context.Context, to, name, code string, lockedUntil, codeExpiresAt time.Time) error {
	data := struct {
		Name, Code, LockedUntil, ExpiresAt string
	}{name, code, lockedUntil.UTC().Format(timeLayout), codeExpiresAt.UTC().Format(timeLayout)}

	text, html, err := render(unlockText, unlockHTML, data)
	if err != nil {
		return fmt.Errorf("%w: render unlock email: %v", models.ErrNotifier, err)
	}

	return n.mailer.Send(ctx, Message{
		Kind:    "unlock_code",
		To:      to,
		Subject: "Your torneo account has been locked",
		Text:    text,
		HTML:    html,
	})
}

func (n *MailNotifier) SendVerificationEmail(ctx context.Context, to, token string, expiresAt time.Time) error {
	data := struct {
		Link, ExpiresAt string
	}{fmt.Sprintf("%s/verify-email?token=%s", n.baseURL, token), expiresAt.UTC().Format(timeLayout)}

	text, html, err := render(verifyText, verifyHTML, data)
	if err != nil {
		return fmt.Errorf("%w: render verification email: %v", models.ErrNotifier, err)
	}

	return n.mailer.Send(ctx, Message{
		Kind:    "email_verification",
		To:      to,
		Subject: "Verify your email address",
		Text:    text,
		HTML:    html,
	})
}

// SESAPI is the part of the SES client used for delivery.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESMailer sends mail through AWS SES.
type SESMailer struct {
	client      SESAPI
	fromAddress string
	logger      *slog.Logger
}

func NewSESMailer(ctx context.Context, region, fromAddress string, log *slog.Logger) (*SESMailer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESMailerWithClient(ses.NewFromConfig(cfg), fromAddress, log), nil
}

func NewSESMailerWithClient(client SESAPI, fromAddress string, log *slog.Logger) *SESMailer {
	return &SESMailer{client: client, fromAddress: fromAddress, logger: log}
}

func (m *SESMailer) Send(ctx context.Context, msg Message) error {
	input := &ses.SendEmailInput{
		Source:      aws.String(m.fromAddress),
		Destination: &types.Destination{ToAddresses: []string{msg.To}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")},
				Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
			},
		},
	}

	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("%w: ses: %v", models.ErrNotifier, err)
	}

	m.logger.Info("email sent",
		slog.String("kind", msg.Kind),
		slog.String("to", logger.SanitizedEmail(msg.To)),
		slog.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil
}

// LogMailer writes messages to the log instead of sending them. Bodies are
// only logged in development so unlock codes stay out of production logs.
type LogMailer struct {
	logger *slog.Logger
	env    string
}

func NewLogMailer(log *slog.Logger, env string) *LogMailer {
	return &LogMailer{logger: log, env: env}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	attrs := []slog.Attr{
		slog.String("kind", msg.Kind),
		slog.String("to", logger.SanitizedEmail(msg.To)),
		slog.String("subject", msg.Subject),
	}
	if m.env == "development" {
		attrs = append(attrs, slog.String("body", msg.Text))
	}
	m.logger.LogAttrs(ctx, slog.LevelInfo, "email (log provider)", attrs...)
	return nil
}

// AsyncConfig tunes AsyncNotifier.
type AsyncConfig struct {
	Workers           int
	QueueSize         int
	SendRatePerSecond float64
	SendTimeout       time.Duration
	MaxRetries        uint64
}

// AsyncNotifier queues messages and delivers them from a worker pool, pacing
// sends to the provider's rate and retrying transient failures.
type AsyncNotifier struct {
	next    Mailer
	cfg     AsyncConfig
	queue   chan Message
	limiter *rate.Limiter
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	// newBackOff is replaced in tests to avoid real sleeps.
	newBackOff func() backoff.BackOff
}

var errNotifierClosed = errors.New("notifier closed")

func NewAsyncNotifier(next Mailer, cfg AsyncConfig, log *slog.Logger) *AsyncNotifier {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	limit := rate.Inf
	if cfg.SendRatePerSecond > 0 {
		limit = rate.Limit(cfg.SendRatePerSecond)
	}

	n := &AsyncNotifier{
		next:    next,
		cfg:     cfg,
		queue:   make(chan Message, cfg.QueueSize),
		limiter: rate.NewLimiter(limit, 1),
		logger:  log,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}

	n.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go n.worker()
	}
	return n
}

// Send enqueues msg without blocking. A full queue or a closed notifier is
// reported as ErrNotifier.
func (n *AsyncNotifier) Send(_ context.Context, msg Message) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return fmt.Errorf("%w: %v", models.ErrNotifier, errNotifierClosed)
	}

	select {
	case n.queue <- msg:
		return nil
	default:
		metrics.Notifications.WithLabelValues(msg.Kind, "dropped").Inc()
		return fmt.Errorf("%w: queue full", models.ErrNotifier)
	}
}

func (n *AsyncNotifier) worker() {
	defer n.wg.Done()
	for msg := range n.queue {
		n.deliver(msg)
	}
}

func (n *AsyncNotifier) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.SendTimeout*time.Duration(n.cfg.MaxRetries+1))
	defer cancel()

	policy := backoff.WithContext(backoff.WithMaxRetries(n.newBackOff(), n.cfg.MaxRetries), ctx)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		if err := n.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		sendCtx, sendCancel := context.WithTimeout(ctx, n.cfg.SendTimeout)
		defer sendCancel()
		return n.next.Send(sendCtx, msg)
	}, policy)

	if err != nil {
		metrics.Notifications.WithLabelValues(msg.Kind, "failed").Inc()
		n.logger.Error("notification delivery failed",
			slog.String("kind", msg.Kind),
			slog.String("to", logger.SanitizedEmail(msg.To)),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.Notifications.WithLabelValues(msg.Kind, "sent").Inc()
}

// Close stops accepting messages and waits for the queue to drain or ctx to
// end, whichever comes first.
func (n *AsyncNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
