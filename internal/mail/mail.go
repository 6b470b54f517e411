// Package mail delivers rendered outreach emails and classifies failures as
// transient (worth retrying) or permanent.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrNotConfigured = errors.New("mail gateway not configured")
	ErrTransient     = errors.New("transient delivery failure")
	ErrPermanent     = errors.New("permanent delivery failure")
)

type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
}

// Gateway is the outbound mail transport. Implementations must be safe for
// concurrent use.
type Gateway interface {
	Send(ctx context.Context, msg Message) error
	// Verify dials and authenticates without sending anything.
	Verify(ctx context.Context) error
}

// SendError carries the recipient and the classification of a failed send.
type SendError struct {
	Recipient string
	Transient bool
	Err       error
}

func (e *SendError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("send to %s (%s): %v", e.Recipient, kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func (e *SendError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Transient
	case ErrPermanent:
		return !e.Transient
	}
	return false
}

// IsTransient reports whether err is worth another attempt. Timeouts and
// network errors are transient even when not wrapped in a SendError.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}

// ValidAddress is a cheap syntactic check before a message is built.
func ValidAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndexByte(addr, '@')
	return at > 0 && at < len(addr)-1 && !strings.ContainsAny(addr, " \t\r\n<>")
}
