// Package config handles configuration loading for almond-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file, or a TOML file when the path ends
// in .toml, with environment variable expansion. Load applies defaults and
// validates the result.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ALMOND_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/almond/gateway.yaml
//  3. ~/.config/almond/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${ALMOND_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  base_url: "https://gateway.example.com"  # used for the OAuth2 redirect
//
// Almond entry, hosted service with OAuth2:
//
//	almond:
//	  type: oauth2
//	  host: "https://almond.stanford.edu"  # default
//	  client_id: "${ALMOND_CLIENT_ID}"
//	  client_secret: "${ALMOND_CLIENT_SECRET}"
//
// Almond entry, local install:
//
//	almond:
//	  type: local
//	  host: "http://localhost:3000"
//
// Shared HTTP client and de-duplication:
//
//	http_client:
//	  timeout: "30s"
//	dedupe:
//	  ttl: "10m"
//	  max_size: 10000
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "almond-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
