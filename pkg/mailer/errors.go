package mailer

import "errors"

var (
	// ErrInvalidRecipient indicates the recipient is not a syntactically valid address.
	ErrInvalidRecipient = errors.New("mailer: invalid recipient")

	// ErrInvalidSender indicates the from address is missing or malformed.
	ErrInvalidSender = errors.New("mailer: invalid sender")

	// ErrNoSubject indicates no subject was provided.
	ErrNoSubject = errors.New("mailer: message must have a subject")

	// ErrNoContent indicates no text body was provided.
	ErrNoContent = errors.New("mailer: message must have a text body")

	// ErrNilMessage indicates Deliver was called without a message.
	ErrNilMessage = errors.New("mailer: nil message")
)

// IsValidationError reports whether err is one of the pre-transport
// rejections returned by Validate. Such messages can never be delivered as
// they are.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRecipient) ||
		errors.Is(err, ErrInvalidSender) ||
		errors.Is(err, ErrNoSubject) ||
		errors.Is(err, ErrNoContent) ||
		errors.Is(err, ErrNilMessage)
}
