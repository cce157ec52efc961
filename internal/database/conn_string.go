package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/adw-relay/internal/config"
	"github.com/rickgao/adw-relay/internal/version"
)

// DefaultSSLMode is used when the config leaves ssl_mode empty.
const DefaultSSLMode = "prefer"

// BuildConnString returns a postgres:// URL for cfg. Credentials are
// escaped and the session is tagged with the relay's application_name.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", version.Product)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
