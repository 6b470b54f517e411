package mail

import (
	"context"
	"errors"
	"fmt"
	"net"

	gomail "github.com/wneessen/go-mail"

	"scholardock/pkg/logger"
	"scholardock/pkg/utils"
)

// SMTP sends through a single authenticated SMTP account. A fresh client is
// dialed per call; go-mail clients are not shared across goroutines.
type SMTP struct {
	cfg utils.MailConfig
	log logger.Logger
}

func NewSMTP(cfg utils.MailConfig, log logger.Logger) *SMTP {
	if log == nil {
		log = logger.NewNop()
	}
	return &SMTP{cfg: cfg, log: log}
}

func (s *SMTP) client() (*gomail.Client, error) {
	if !s.cfg.Configured() {
		return nil, ErrNotConfigured
	}
	opts := []gomail.Option{
		gomail.WithPort(s.cfg.Port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.cfg.Username),
		gomail.WithPassword(s.cfg.Password),
	}
	if s.cfg.SSL {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	if s.cfg.SendTimeout > 0 {
		opts = append(opts, gomail.WithTimeout(s.cfg.SendTimeout))
	}
	c, err := gomail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("new smtp client: %w", err)
	}
	return c, nil
}

func (s *SMTP) Verify(ctx context.Context) error {
	c, err := s.client()
	if err != nil {
		return err
	}
	if err := c.DialWithContext(ctx); err != nil {
		return fmt.Errorf("smtp dial %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	return c.Close()
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if !ValidAddress(msg.To) {
		return &SendError{Recipient: msg.To, Err: fmt.Errorf("invalid address %q", msg.To)}
	}
	c, err := s.client()
	if err != nil {
		return err
	}

	m := gomail.NewMsg()
	if err := m.FromFormat(s.cfg.FromName, s.cfg.FromAddress); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if msg.ToName != "" {
		err = m.AddToFormat(msg.ToName, msg.To)
	} else {
		err = m.To(msg.To)
	}
	if err != nil {
		return &SendError{Recipient: msg.To, Err: err}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextHTML, msg.HTML)

	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		s.log.Warn("smtp send failed", logger.String("to", msg.To), logger.Error(err))
		return classify(msg.To, err)
	}
	return nil
}

func classify(to string, err error) error {
	transient := false
	var sendErr *gomail.SendError
	var netErr net.Error
	switch {
	case errors.As(err, &sendErr):
		transient = sendErr.IsTemp()
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		transient = true
	}
	return &SendError{Recipient: to, Transient: transient, Err: err}
}
