package webtransportgo

import (
	"context"
	"crypto/tls"
	"net/http"

	"github.com/okdaichi/moqtransport/quic"
	"github.com/okdaichi/moqtransport/webtransport"
	quicgo_webtransportgo "github.com/quic-go/webtransport-go"
)

var _ webtransport.DialAddrFunc = Dial

// Dial establishes a WebTransport session at the https URL addr.
func Dial(ctx context.Context, addr string, header http.Header, tlsConfig *tls.Config) (*http.Response, quic.Connection, error) {
	d := quicgo_webtransportgo.Dialer{
		TLSClientConfig: tlsConfig,
	}
	rsp, wtsess, err := d.Dial(ctx, addr, header)
	if err != nil {
		return rsp, nil, err
	}

	return rsp, WrapSession(wtsess), nil
}
