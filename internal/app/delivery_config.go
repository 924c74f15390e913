package app

import (
	"strings"

	"github.com/candorhq/candor/internal/cache"
	"github.com/candorhq/candor/pkg/mail"
)

// RedisClientConfig maps the redis block onto the cache client settings.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	r := c.Redis
	return cache.RedisConfig{
		Address:  strings.TrimSpace(r.Address),
		Username: strings.TrimSpace(r.Username),
		Password: r.Password,
		DB:       r.DB,
		TLS:      r.TLS,
		Timeout:  r.Timeout,
	}
}

// SMTPSettings maps the smtp block onto the mailer. A blank sender falls back
// to the SMTP username, which most relays require anyway.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	s := c.SMTP
	from := strings.TrimSpace(s.From)
	if from == "" {
		from = strings.TrimSpace(s.Username)
	}
	return mail.SMTPSettings{
		Enabled:  s.Enabled,
		Host:     strings.TrimSpace(s.Host),
		Port:     s.Port,
		Username: strings.TrimSpace(s.Username),
		Password: s.Password,
		From:     from,
		UseTLS:   s.UseTLS,
		Timeout:  s.Timeout,
	}
}
