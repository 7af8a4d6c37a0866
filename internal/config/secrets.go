package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing
// the active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	out.Exchanges = make(map[string]ExchangeConfig, len(cfg.Exchanges))
	for name, ex := range cfg.Exchanges {
		redact(&ex.APIKey)
		redact(&ex.APISecret)
		redact(&ex.SecretPassword)
		if cfg.Exchanges[name].Pairs != nil {
			ex.Pairs = append([]string(nil), cfg.Exchanges[name].Pairs...)
		}
		out.Exchanges[name] = ex
	}

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
