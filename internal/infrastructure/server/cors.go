package server

import (
	"net/http"

	connectcors "connectrpc.com/cors"
	"github.com/rs/cors"
	"github.com/ticketcore/scancore/pkg/config"
)

// GetCorsOptions builds the CORS options from the connectrpc helpers, adding
// the bearer-token and trace-propagation request headers.
func GetCorsOptions(allowedOrigins []string) cors.Options {
	return cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: connectcors.AllowedMethods(),
		AllowedHeaders: append(connectcors.AllowedHeaders(), "Authorization", "Traceparent", "Tracestate"),
		ExposedHeaders: connectcors.ExposedHeaders(),
	}
}

// NewCORSHandler creates a new CORS middleware using connectrpc helpers.
func NewCORSHandler(mu http.Handler, srvConfig *config.ServerConfig) http.Handler {
	return cors.New(GetCorsOptions(srvConfig.AllowedOrigins)).Handler(mu)
}
