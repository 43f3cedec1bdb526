package app

import (
	"strings"

	"github.com/charlesng35/trialkit/internal/database"
)

// ConnectionConfig converts DatabaseConfig into database.Config. Only the host block
// of the selected driver is used.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	cfg := database.Config{
		Driver:          driver,
		Path:            strings.TrimSpace(c.Path),
		DSN:             strings.TrimSpace(c.DSN),
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}

	var host DBAuthConfig
	switch driver {
	case "postgres", "postgresql":
		host = c.Postgres
	case "mysql":
		host = c.MySQL
	default:
		return cfg
	}

	cfg.Host = strings.TrimSpace(host.Host)
	cfg.Port = host.Port
	cfg.Name = strings.TrimSpace(host.Database)
	cfg.User = strings.TrimSpace(host.Username)
	cfg.Password = host.Password
	return cfg
}
