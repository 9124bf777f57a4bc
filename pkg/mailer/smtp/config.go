package smtp

import "time"

// TLSMode selects how the connection is secured.
type TLSMode string

const (
	TLSNone     TLSMode = "none"
	TLSStartTLS TLSMode = "starttls"
	TLSImplicit TLSMode = "ssl"
)

// Config holds SMTP relay settings.
type Config struct {
	Host     string        `env:"SMTP_HOST"`
	Username string        `env:"SMTP_USERNAME"`
	Password string        `env:"SMTP_PASSWORD"`
	TLS      TLSMode       `env:"SMTP_TLS" envDefault:"starttls"`
	HeloName string        `env:"SMTP_HELO_NAME" envDefault:"localhost"`
	Port     int           `env:"SMTP_PORT" envDefault:"587"`
	Timeout  time.Duration `env:"SMTP_TIMEOUT" envDefault:"10s"` // connect plus full exchange
}
