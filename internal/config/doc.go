// Package config handles configuration loading for chat-relay.
//
// Configuration is loaded from a YAML file with ${VAR_NAME} environment
// variable expansion and duration-string parsing. Required fields are
// validated on load: server.http_addr, database.path, and auth.jwt_secret.
//
// Example:
//
//	server:
//	  http_addr: ":8080"
//	  allowed_origins:
//	    - "https://chat.example.com"
//	database:
//	  path: "~/.local/share/chat-relay/chat.db"
//	auth:
//	  jwt_secret: "${CHAT_RELAY_JWT_SECRET}"
//	  token_ttl: "24h"
//	logging:
//	  level: "info"
//	  format: "text"
package config
