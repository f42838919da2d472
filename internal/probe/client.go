package probe

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=probe_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewHTTPClient returns the client used for every verified candidate.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: newTransport()}
}

// NewGatewayHTTPClient returns a client that skips certificate
// verification. The local broker gateway serves a self-signed certificate;
// this client is only ever used for candidates marked InsecureTLS.
func NewGatewayHTTPClient() *http.Client {
	t := newTransport()
	t.Proxy = nil
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // local gateway, self-signed
	return &http.Client{Transport: t}
}
