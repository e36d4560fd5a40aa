package instance

import (
	"os"

	"github.com/mohacollection/storefront-backend/pkg/env"
)

// ID names the running process for logs and lock ownership. It prefers
// MOHA_INSTANCE_ID, then the platform dyno name, then the hostname.
func ID() string {
	if id := env.Get("MOHA_INSTANCE_ID", env.Get("DYNO", "")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
