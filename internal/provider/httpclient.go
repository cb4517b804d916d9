package provider

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const defaultClientTimeout = 120 * time.Second

var (
	transportOnce sync.Once
	transport     *http.Transport
)

// sharedTransport is the one connection pool behind every outbound client:
// completion providers, embedders, Qdrant and Kapso.
func sharedTransport() *http.Transport {
	transportOnce.Do(func() {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		}
	})
	return transport
}

// SharedHTTPClient returns a client with its own overall timeout on top of the
// shared transport.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &http.Client{Timeout: timeout, Transport: sharedTransport()}
}
