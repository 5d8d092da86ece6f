package notification

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/mikeyg42/vehicle-security/internal/config"
	"github.com/mikeyg42/vehicle-security/internal/security"
)

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPAlerter emails breach and panic alerts to the configured contacts.
// It implements security.Alerter.
type SMTPAlerter struct {
	cfg        config.SMTPConfig
	contacts   []config.Contact
	systemName string
	maxRetries uint64
	logger     *zap.Logger

	send sendFunc
	now  func() time.Time
}

var _ security.Alerter = (*SMTPAlerter)(nil)

var ErrNoContacts = errors.New("no alert contacts configured")

func NewSMTPAlerter(cfg config.NotificationConfig, systemName string, logger *zap.Logger) (*SMTPAlerter, error) {
	if len(cfg.Contacts) == 0 {
		return nil, ErrNoContacts
	}
	if len(cfg.Contacts) > config.MaxContacts {
		return nil, fmt.Errorf("too many alert contacts: %d (max %d)", len(cfg.Contacts), config.MaxContacts)
	}
	if logger == nil {
		logger = zap.L()
	}
	return &SMTPAlerter{
		cfg:        cfg.SMTP,
		contacts:   cfg.Contacts,
		systemName: systemName,
		maxRetries: 3,
		logger:     logger.Named("notifier"),
		send:       smtp.SendMail,
		now:        time.Now,
	}, nil
}

// Alert sends one email addressed to every contact.
func (n *SMTPAlerter) Alert(ctx context.Context, a security.Alert) error {
	if a.At.IsZero() {
		a.At = n.now()
	}
	msg, to, err := n.compose(a)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	op := func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- n.send(addr, auth, n.cfg.From, to, msg) }()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		}
	}

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(ebo, n.maxRetries), ctx)); err != nil {
		return fmt.Errorf("failed to send alert email via %s: %w", addr, err)
	}

	n.logger.Info("Alert email sent",
		zap.String("source", a.Source),
		zap.Int("recipients", len(to)))
	return nil
}

func (n *SMTPAlerter) compose(a security.Alert) ([]byte, []string, error) {
	data := newAlertData(a, n.systemName)
	htmlBody, textBody, err := renderAlert(data)
	if err != nil {
		return nil, nil, err
	}

	to := make([]string, 0, len(n.contacts))
	header := make([]string, 0, len(n.contacts))
	for _, c := range n.contacts {
		to = append(to, c.Email)
		header = append(header, formatAddress(c.Name, c.Email))
	}

	m := &message{
		From:     n.cfg.From,
		FromName: n.systemName,
		To:       header,
		Subject:  data.Subject(),
		TextBody: textBody,
		HTMLBody: htmlBody,
		AlertID:  data.AlertID,
		Date:     n.now(),
	}
	raw, err := m.build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build MIME message: %w", err)
	}
	return raw, to, nil
}
