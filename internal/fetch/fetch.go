// Package fetch implements the upstream fetcher: it retrieves one resource
// by URL over http/https or the local filesystem, enforcing a size cap, a
// deadline, header passthrough, and optional hash validation.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/webmonitoring/diffing-service/internal/apierr"
)

// FetchResult is the outcome of a successful fetch.
type FetchResult struct {
	URL         string
	Status      int
	Headers     http.Header
	Body        []byte
	BodyHash    string // hex sha256 of Body, always computed
	FromArchive bool
	Truncated   bool
}

// Request bundles the inputs the fetcher needs for a single resource.
type Request struct {
	URL            string
	IncomingHeader http.Header // the client's original request headers
	PassHeaders    []string    // names the client asked to forward
	ExpectedHash   string      // optional hex sha256, lowercase
	MaxBodyBytes   int64
	AllowFileURLs  bool // false when deployment env is "production"
}

// Fetcher performs fetches against a shared, connection-pooled client.
type Fetcher struct {
	Client *http.Client
}

// New builds a Fetcher with the package's shared transport.
func New() *Fetcher {
	return &Fetcher{Client: NewClient()}
}

// Fetch retrieves req.URL, returning a *apierr.Error on any of the failure
// kinds: NetworkUnreachable, Timeout, UpstreamHttpError(status),
// BodyTooLarge, HashMismatch, DisallowedScheme.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*FetchResult, error) {
	u, err := parseURLScheme(req.URL)
	if err != nil {
		return nil, apierr.New(apierr.KindInvalidRequest, "malformed url: "+req.URL)
	}

	switch u {
	case "file":
		return f.fetchFile(req)
	case "http", "https":
		return f.fetchHTTP(ctx, req)
	default:
		return nil, apierr.New(apierr.KindDisallowedScheme, "unsupported scheme: "+u)
	}
}

func parseURLScheme(raw string) (string, error) {
	i := strings.Index(raw, "://")
	if i <= 0 {
		return "", fmt.Errorf("no scheme in %q", raw)
	}
	return strings.ToLower(raw[:i]), nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, req Request) (*FetchResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, apierr.New(apierr.KindInvalidRequest, "malformed url: "+req.URL)
	}
	applyPassthroughHeaders(httpReq, req.IncomingHeader, req.PassHeaders)

	resp, err := f.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierr.New(apierr.KindUpstreamTimeout, "upstream request timed out")
		}
		return nil, apierr.New(apierr.KindUpstreamFailure, "upstream unreachable: "+req.URL)
	}
	defer resp.Body.Close()

	body, truncated, err := readCapped(resp.Body, resp.ContentLength, req.MaxBodyBytes)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierr.New(apierr.KindUpstreamTimeout, "upstream request timed out")
		}
		return nil, err
	}

	fromArchive := hasMementoHeader(resp.Header)
	if !isSuccessStatus(resp.StatusCode) && !fromArchive {
		return nil, apierr.New(apierr.KindUpstreamFailure,
			fmt.Sprintf("upstream returned HTTP %d for %s", resp.StatusCode, req.URL))
	}

	digest := bodyDigest(body)
	if err := verifyHash(digest, req.ExpectedHash); err != nil {
		return nil, err
	}

	return &FetchResult{
		URL:         req.URL,
		Status:      resp.StatusCode,
		Headers:     resp.Header,
		Body:        body,
		BodyHash:    digest,
		FromArchive: fromArchive,
		Truncated:   truncated,
	}, nil
}

func (f *Fetcher) fetchFile(req Request) (*FetchResult, error) {
	if !req.AllowFileURLs {
		return nil, apierr.New(apierr.KindDisallowedScheme, "file:// urls are disallowed in this environment")
	}
	path := strings.TrimPrefix(req.URL, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apierr.New(apierr.KindUpstreamFailure, "could not read local file: "+path)
	}
	if req.MaxBodyBytes > 0 && int64(len(data)) > req.MaxBodyBytes {
		return nil, apierr.New(apierr.KindUpstreamFailure, "local file exceeds size cap")
	}
	digest := bodyDigest(data)
	if err := verifyHash(digest, req.ExpectedHash); err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Content-Type", contentTypeForExtension(path))

	return &FetchResult{
		URL:         req.URL,
		Status:      http.StatusOK,
		Headers:     headers,
		Body:        data,
		BodyHash:    digest,
		FromArchive: false,
		Truncated:   false,
	}, nil
}

// readCapped streams body with a hard byte cap: when
// declaredLength is known and within cap, it reads exactly that many
// bytes and stops even if the server keeps sending more than it declared —
// reporting truncated=true when the server did try to send more, and
// truncated=false on normal completion. Otherwise it reads up to cap+1
// bytes and fails BodyTooLarge if the extra byte was present.
func readCapped(r io.Reader, declaredLength, cap int64) ([]byte, bool, error) {
	if declaredLength >= 0 && declaredLength <= cap {
		buf := make([]byte, declaredLength)
		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, false, err
		}
		truncated := false
		if err == nil {
			// Probe one byte past the declared length to learn whether
			// the server was still sending when we stopped.
			probe := make([]byte, 1)
			if extra, _ := r.Read(probe); extra > 0 {
				truncated = true
			}
		}
		return buf[:n], truncated, nil
	}

	limited := io.LimitReader(r, cap+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > cap {
		return nil, false, apierr.New(apierr.KindUpstreamFailure, "response body exceeds size cap")
	}
	return data, false, nil
}

func applyPassthroughHeaders(out *http.Request, incoming http.Header, names []string) {
	for _, name := range names {
		if v := incoming.Get(name); v != "" {
			out.Header.Set(name, v)
		}
	}
}

func hasMementoHeader(h http.Header) bool {
	return h.Get("Memento-Datetime") != ""
}

func isSuccessStatus(code int) bool {
	return code >= 200 && code < 300
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func verifyHash(digest, expectedHex string) error {
	if expectedHex == "" {
		return nil
	}
	if !strings.EqualFold(digest, expectedHex) {
		return apierr.New(apierr.KindHashMismatch, "content hash mismatch (expected "+expectedHex+")")
	}
	return nil
}

// contentTypeForExtension synthesizes a Content-Type for file:// resources
// from a small fixed table; it intentionally does not delegate to
// mime.TypeByExtension, whose system-dependent MIME database doesn't match
// this table (notably: unknown/missing extensions fall back to text/html,
// not application/octet-stream).
func contentTypeForExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".html", ".htm":
		return "text/html"
	case ".txt":
		return "text/plain"
	default:
		return "text/html"
	}
}
