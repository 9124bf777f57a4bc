package ses

// Config holds Amazon SES settings. Empty keys fall back to the default AWS
// credential chain.
type Config struct {
	Region          string `env:"SES_REGION" envDefault:"us-east-1"`
	AccessKeyID     string `env:"SES_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SES_SECRET_ACCESS_KEY"`
	SenderEmail     string `env:"SES_SENDER_EMAIL"`
	SenderName      string `env:"SES_SENDER_NAME"`
	// ConfigurationSet routes SES events (bounces, complaints) to a destination.
	ConfigurationSet string `env:"SES_CONFIGURATION_SET"`
}
