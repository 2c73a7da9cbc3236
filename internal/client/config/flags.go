package config

import (
	"flag"

	"github.com/dmitrijs2005/gophchat/internal/flagx"
)

var knownFlags = []string{"-a", "-t", "-g", "-transport", "-store", "-cache", "-timeout", "-retries", "-log-level"}

// parseFlags populates Config fields from command-line flags. Arguments not
// owned by this function are filtered out with flagx.FilterArgs first.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("gophchat", flag.ContinueOnError)
	fs.StringVar(&cfg.APIBaseURL, "a", cfg.APIBaseURL, "REST API base URL")
	fs.StringVar(&cfg.AccessToken, "t", cfg.AccessToken, "access token")
	fs.StringVar(&cfg.GatewayURL, "g", cfg.GatewayURL, "websocket gateway URL")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "transport: websocket, kafka or memory")
	fs.StringVar(&cfg.ObjectStore, "store", cfg.ObjectStore, "object store: local or s3")
	fs.StringVar(&cfg.Cache, "cache", cfg.Cache, "session cache: sqlite or redis")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "REST request timeout")
	fs.IntVar(&cfg.RequestRetries, "retries", cfg.RequestRetries, "extra attempts for REST reads, 0 disables")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level")

	return fs.Parse(args)
}
