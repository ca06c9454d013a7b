package httputil

import (
	"net/http"
	"net/url"
	"time"
)

type Clients struct {
	API  *http.Client // provider calls, optionally proxied
	Sink *http.Client // direct, for the backend /update endpoint
}

func NewClients(proxyURL string) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}

	return &Clients{
		API: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		Sink: &http.Client{Timeout: 10 * time.Second},
	}
}

// UserAgent is sent on every provider request.
const UserAgent = "flipr-ingest/1.0"
