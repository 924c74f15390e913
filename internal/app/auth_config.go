package app

import (
	"github.com/candorhq/candor/internal/auth"
	"github.com/candorhq/candor/internal/cache"
	"github.com/candorhq/candor/internal/services"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// SessionServiceConfig converts AuthConfig into SessionService parameters.
func (c AuthConfig) SessionServiceConfig(store cache.Store) auth.SessionConfig {
	ttl := c.Session.TTL
	if ttl <= 0 {
		ttl = auth.DefaultSessionTTL
	}
	idle := c.Session.IdleTimeout
	if idle <= 0 {
		idle = auth.DefaultIdleTimeout
	}

	cfg := auth.SessionConfig{
		TTL:         ttl,
		IdleTimeout: idle,
	}
	if store != nil {
		cfg.Cache = auth.NewSessionCache(store)
	}
	return cfg
}

// MagicLinkServiceConfig converts AuthConfig into MagicLinkService parameters.
// Requests are throttled through limiter when one is supplied.
func (c Config) MagicLinkServiceConfig(limiter cache.Store) auth.MagicLinkConfig {
	return auth.MagicLinkConfig{
		TTL:           c.Auth.MagicLink.TTL,
		TokenBytes:    c.Auth.MagicLink.TokenBytes,
		BaseURL:       c.Server.BaseURL,
		From:          c.Email.SMTP.From,
		DevMode:       c.Server.DevMode,
		Limiter:       limiter,
		RequestLimit:  c.Auth.MagicLink.RequestLimit,
		RequestWindow: c.Auth.MagicLink.RequestWindow,
	}
}

// InvitationServiceConfig converts the configuration into InvitationService parameters.
func (c Config) InvitationServiceConfig() services.InvitationConfig {
	return services.InvitationConfig{
		TTL:     c.Auth.Invitation.TTL,
		BaseURL: c.Server.BaseURL,
		From:    c.Email.SMTP.From,
	}
}
