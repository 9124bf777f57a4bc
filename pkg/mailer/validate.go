package mailer

import (
	"net/mail"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidAddress reports whether addr is a bare, syntactically valid email address.
func ValidAddress(addr string) bool {
	return validate.Var(addr, "required,email") == nil
}

// NormalizeAddress trims whitespace and lowercases the domain part.
// The local part is left untouched; it is case sensitive by RFC 5321.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return addr
	}
	return addr[:at+1] + strings.ToLower(addr[at+1:])
}

// Validate checks that msg can be handed to a transport.
// It runs before any network work so invalid input never reaches the provider.
func Validate(msg *Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	if !ValidAddress(msg.To) {
		return ErrInvalidRecipient
	}
	if !validSender(msg.From) {
		return ErrInvalidSender
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return ErrNoSubject
	}
	if msg.Text == "" {
		return ErrNoContent
	}
	return nil
}

// validSender accepts either a bare address or "Name <addr>".
func validSender(from string) bool {
	if ValidAddress(from) {
		return true
	}
	parsed, err := mail.ParseAddress(from)
	return err == nil && ValidAddress(parsed.Address)
}
