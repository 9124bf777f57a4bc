package mailer

import "fmt"

// Recipient formats a name and email into RFC 5322 address format.
// Returns "Name <email>" if name is provided, otherwise just email.
func Recipient(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}

// Tag names set on every message by the dispatcher.
const (
	TagSendID   = "send_id"
	TagTenantID = "tenant_id"
)

// Message is a fully resolved email ready for one delivery attempt.
type Message struct {
	Headers map[string]string // Custom headers
	Tags    map[string]string // Provider tags (send id, tenant)
	From    string            // Sender address, optionally "Name <addr>"
	To      string            // Single recipient address
	Subject string
	Text    string // Plain text body, required
	HTML    string // Optional HTML alternative
}

// SendID returns the send id tag, or "" when the message has none.
func (m *Message) SendID() string {
	return m.Tags[TagSendID]
}
