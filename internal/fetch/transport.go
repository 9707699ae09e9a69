package fetch

import (
	"net"
	"net/http"
	"time"
)

// newTransport builds the shared, connection-pooling transport every
// upstream fetch rides on: same dial/keep-alive/pool tuning as a tuned
// production HTTP client, but the per-request timeout now comes from the
// request's own context deadline (set by the orchestrator per client
// request) rather than a single fixed *http.Client-wide timeout, since each
// fetch carries its own budget.
func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewClient returns the shared *http.Client used by a Fetcher. It carries no
// timeout of its own; callers must bound each request with a context
// deadline so that connect and read time both count against the same
// budget.
func NewClient() *http.Client {
	return &http.Client{Transport: newTransport()}
}
