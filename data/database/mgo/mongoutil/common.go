package mongoutil

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 3
)

// Server error codes that make a connect attempt pointless to repeat.
const (
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
)

// buildMongoURI renders a seed-list URI from the discrete settings. Credentials
// are escaped so passwords may contain '@' or ':'.
func buildMongoURI(cfg *Config, authSource string) string {
	u := url.URL{
		Scheme: "mongodb",
		Host:   strings.Join(cfg.Address, ","),
		Path:   "/" + cfg.Database,
	}
	if cfg.Username != "" && cfg.Password != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	q := url.Values{}
	if authSource != "" {
		q.Set("authSource", authSource)
	}
	q.Set("maxPoolSize", strconv.Itoa(cfg.MaxPoolSize))
	u.RawQuery = q.Encode()
	return u.String()
}

func shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code != codeUnauthorized && cmdErr.Code != codeAuthenticationFailed
	}
	return true
}
