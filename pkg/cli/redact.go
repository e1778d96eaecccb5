package cli

import (
	"net/url"

	"github.com/websyro/prismapilot/pkg/config"
)

const redacted = "***"

// redact masks credentials before configuration is printed.
func redact(cfg config.Config) config.Config {
	cfg.Database.URL = redactURL(cfg.Database.URL)
	cfg.Cache.URL = redactURL(cfg.Cache.URL)
	if len(cfg.Webhook.Headers) > 0 {
		headers := make(map[string]string, len(cfg.Webhook.Headers))
		for k, v := range cfg.Webhook.Headers {
			if v != "" {
				v = redacted
			}
			headers[k] = v
		}
		cfg.Webhook.Headers = headers
	}
	return cfg
}

func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Opaque != "" {
		return redacted
	}
	if u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}
