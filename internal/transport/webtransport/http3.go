package webtransport

import (
	"crypto/tls"
	"net/http"

	"github.com/quic-go/quic-go/http3"
)

// http3ServerFor builds the HTTP/3 server webtransport.Server embeds,
// matching the teacher's single self-signed-cert listener in server.go,
// generalized to accept any handler instead of a fixed mux.
func http3ServerFor(addr string, tlsConfig *tls.Config, handler http.Handler) *http3.Server {
	return &http3.Server{
		Addr:      addr,
		TLSConfig: tlsConfig,
		Handler:   handler,
	}
}
