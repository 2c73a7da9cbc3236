// Package config loads runtime configuration for the gophchat client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file selected with -c or -config. The extension picks
//     the format: .json or .toml.
//  3. Environment: GOPHCHAT_* variables, with a .env file in the working
//     directory filling in the ones the process environment lacks.
//  4. Command-line flags, which override everything else.
//
// Supported flags
//
//	-a string          REST API base URL
//	-t string          access token
//	-g string          websocket gateway URL
//	-transport string  websocket | kafka | memory
//	-store string      local | s3
//	-cache string      sqlite | redis
//	-timeout duration  REST request timeout
//	-retries int       extra attempts for REST reads, 0 disables
//	-log-level string  debug | info | warn | error
//
// # File schema
//
// Durations are Go duration strings ("10s") or, in JSON, integer
// nanoseconds:
//
//	{
//	  "api_base_url": "https://chat.example.com",
//	  "transport": "websocket",
//	  "gateway_url": "wss://chat.example.com/ws/",
//	  "request_timeout": "10s",
//	  "s3": {"bucket": "chat-files", "region": "eu-central-1"},
//	  "log": {"backend": "zap", "level": "debug", "file": "gophchat.log"}
//	}
package config
