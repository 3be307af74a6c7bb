package webtransportgo

import (
	"crypto/tls"
	"log/slog"
	"net/http"

	"github.com/okdaichi/moqtransport/webtransport"
	"github.com/quic-go/quic-go/http3"
	quicgo_webtransportgo "github.com/quic-go/webtransport-go"
)

// NewServer creates a WebTransport server listening on addr.
// If checkOrigin is nil, all origins are accepted.
func NewServer(addr string, tlsConfig *tls.Config, checkOrigin func(*http.Request) bool) *Server {
	mux := http.NewServeMux()

	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Server{
		mux: mux,
		server: &quicgo_webtransportgo.Server{
			H3: http3.Server{
				Addr:      addr,
				TLSConfig: tlsConfig,
				Handler:   mux,
			},
			CheckOrigin: checkOrigin,
		},
	}
}

// Server accepts WebTransport sessions and hands them to handlers as quic.Connection.
type Server struct {
	server *quicgo_webtransportgo.Server
	mux    *http.ServeMux
}

// HandleFunc upgrades requests matching pattern and calls handler with the session.
// The session is closed when handler returns.
func (s *Server) HandleFunc(pattern string, handler webtransport.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		wtsess, err := s.server.Upgrade(w, r)
		if err != nil {
			slog.Error("failed to upgrade to webtransport",
				"error", err,
				"remote_address", r.RemoteAddr,
			)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		conn := WrapSession(wtsess)
		defer conn.CloseWithError(0, "")

		handler(conn, r)
	})
}

// ListenAndServe serves until the server is closed.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Close stops the server.
func (s *Server) Close() error {
	return s.server.Close()
}
