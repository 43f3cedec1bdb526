package app

import (
	"strings"

	"github.com/charlesng35/trialkit/internal/auth"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Secret: c.JWT.Secret,
		Issuer: strings.TrimSpace(c.JWT.Issuer),
	}
}
