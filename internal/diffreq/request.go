// Package diffreq parses and validates an inbound diff request, producing
// a DiffRequest value.
package diffreq

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/webmonitoring/diffing-service/internal/apierr"
)

// AllowedSchemes are the locator schemes the fetcher is willing to dial.
// file:// is included here unconditionally; the production gate lives in
// internal/fetch, which is the component that actually knows the deployment
// environment.
var AllowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"file":  true,
}

// DiffRequest is the parsed, validated shape of a GET /{algorithm} request.
type DiffRequest struct {
	Algorithm    string
	AURL         string
	BURL         string
	AHash        string
	BHash        string
	Options      map[string]string
	PassHeaders  []string
	ClientOrigin string
	IfNoneMatch  string
}

// reservedParams are query parameters the orchestrator consumes itself;
// everything else passes through to Options for the algorithm registry.
var reservedParams = map[string]bool{
	"a": true, "b": true, "a_hash": true, "b_hash": true, "pass_headers": true,
}

// Parse extracts and validates a DiffRequest from an HTTP request already
// routed to a known algorithm name.
func Parse(r *http.Request, algorithm string) (*DiffRequest, error) {
	q := r.URL.Query()

	aURL := strings.TrimSpace(q.Get("a"))
	bURL := strings.TrimSpace(q.Get("b"))
	if aURL == "" || bURL == "" {
		return nil, apierr.New(apierr.KindInvalidRequest, "both 'a' and 'b' query parameters are required")
	}
	if err := validateURL(aURL); err != nil {
		return nil, err
	}
	if err := validateURL(bURL); err != nil {
		return nil, err
	}

	options := make(map[string]string, len(q))
	for key, values := range q {
		if reservedParams[key] || len(values) == 0 {
			continue
		}
		options[key] = values[0]
	}

	req := &DiffRequest{
		Algorithm:    algorithm,
		AURL:         aURL,
		BURL:         bURL,
		AHash:        strings.ToLower(strings.TrimSpace(q.Get("a_hash"))),
		BHash:        strings.ToLower(strings.TrimSpace(q.Get("b_hash"))),
		Options:      options,
		PassHeaders:  parsePassHeaders(q.Get("pass_headers")),
		ClientOrigin: r.Header.Get("Origin"),
		IfNoneMatch:  r.Header.Get("If-None-Match"),
	}
	return req, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return apierr.New(apierr.KindInvalidRequest, "url must be absolute: "+raw)
	}
	if !AllowedSchemes[strings.ToLower(u.Scheme)] {
		return apierr.New(apierr.KindInvalidRequest, "unsupported url scheme: "+u.Scheme)
	}
	return nil
}

func parsePassHeaders(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SortedOptionKeys is a small convenience, used by tests, to get a
// deterministic ordering over a request's options.
func SortedOptionKeys(options map[string]string) []string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
