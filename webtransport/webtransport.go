// Package webtransport carries MoQT sessions over WebTransport.
//
// WebTransport runs over HTTP/3. A session is established by an extended
// CONNECT request and then exposes streams and datagrams that map directly
// onto the quic.Connection capability set, so the moqt package runs over it
// unchanged. CLIENT_SETUP omits the PATH parameter on WebTransport because
// the request URL already names the endpoint.
//
// The webtransportgo subpackage wraps github.com/quic-go/webtransport-go.
//
// To accept sessions:
//
//	srv := webtransportgo.NewServer(":4433", tlsConfig, nil)
//	srv.HandleFunc("/moq", func(conn quic.Connection, r *http.Request) {
//	    sess, err := moqt.Accept(r.Context(), conn, config)
//	    ...
//	})
//	log.Fatal(srv.ListenAndServe())
//
// To dial:
//
//	_, conn, err := webtransportgo.Dial(ctx, "https://example.com:4433/moq", nil, tlsConfig)
package webtransport

import (
	"context"
	"crypto/tls"
	"net/http"

	"github.com/okdaichi/moqtransport/quic"
)

// DialAddrFunc is a function type for establishing a WebTransport session.
// It returns the HTTP response, the session as a quic.Connection, and any error.
type DialAddrFunc func(ctx context.Context, addr string, header http.Header, tlsConfig *tls.Config) (*http.Response, quic.Connection, error)

// HandlerFunc serves one upgraded WebTransport session.
type HandlerFunc func(conn quic.Connection, r *http.Request)
