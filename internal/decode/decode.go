// Package decode implements the body decoder: converts
// raw fetched bytes to text using the declared charset, meta-tag/BOM
// sniffing, or a lenient ascii fallback — never failing loudly on a
// malformed Content-Type header.
package decode

import (
	"mime"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/webmonitoring/diffing-service/internal/apierr"
	"github.com/webmonitoring/diffing-service/internal/fetch"
)

// DecodedBody is the textual (or text-less) view of a fetched resource.
type DecodedBody struct {
	Bytes    []byte
	Text     string
	HasText  bool
	Encoding string
}

// Raw wraps a fetch result's bytes without attempting any textual decode,
// for algorithms that operate on raw bytes (identity, length) and bypass the
// decoder entirely.
func Raw(fr *fetch.FetchResult) DecodedBody {
	return DecodedBody{Bytes: fr.Body, HasText: false}
}

// Decode converts a FetchResult to a DecodedBody. It should only be called
// for algorithms that require text input; byte-oriented algorithms
// (identity, length) bypass it entirely.
func Decode(fr *fetch.FetchResult) (DecodedBody, error) {
	contentType := fr.Headers.Get("Content-Type")
	mimeType, params := parseMediaType(contentType)

	if !isTextualMIME(mimeType) {
		return DecodedBody{}, apierr.New(apierr.KindUndecodableContent,
			"content type "+mimeType+" is not decodable as text")
	}

	if len(fr.Body) == 0 {
		return DecodedBody{Bytes: fr.Body, Text: "", HasText: true, Encoding: "utf-8"}, nil
	}

	enc, name := resolveEncoding(params, fr.Body)
	text, err := enc.NewDecoder().String(string(fr.Body))
	if err != nil {
		// Decoders we hand out (htmlindex lookups, charmap single-byte
		// pages, windows-1252 fallback) are error-tolerant by
		// construction, but guard against any future surprises rather
		// than bubbling a raw transform error to the client.
		return DecodedBody{}, apierr.New(apierr.KindUndecodableContent, "could not decode body as "+name)
	}

	return DecodedBody{Bytes: fr.Body, Text: text, HasText: true, Encoding: name}, nil
}

// parseMediaType tolerates a malformed Content-Type header: on parse
// failure it keeps whatever media type could be read (text/html, as for a
// missing header, when none could) and drops the params rather than
// erroring, so charset resolution falls through to detection.
func parseMediaType(contentType string) (string, map[string]string) {
	if contentType == "" {
		return "text/html", nil
	}
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		if mt == "" {
			mt = "text/html"
		}
		return mt, nil
	}
	return mt, params
}

func isTextualMIME(mimeType string) bool {
	if mimeType == "" {
		return false
	}
	lower := strings.ToLower(mimeType)
	if strings.HasPrefix(lower, "text/") {
		return true
	}
	switch lower {
	case "application/xhtml+xml", "application/xml+xhtml":
		return true
	}
	return false
}

// resolveEncoding implements a three-step resolution order: declared
// charset, content sniffing, then a lenient ascii-compatible fallback.
func resolveEncoding(headerParams map[string]string, body []byte) (encoding.Encoding, string) {
	if headerParams != nil {
		if label := charsetLabel(headerParams); label != "" {
			if enc, err := htmlindex.Get(label); err == nil {
				if canonical, err := htmlindex.Name(enc); err == nil {
					return enc, canonical
				}
				return enc, label
			}
		}
	}

	// A BOM, a <meta> charset, or a body that is valid UTF-8 gives the
	// detector a label; windows-1252 is only its last-resort guess.
	if enc, name, certain := charset.DetermineEncoding(body, ""); certain || name != "windows-1252" {
		if canonical, err := htmlindex.Name(enc); err == nil {
			return enc, canonical
		}
		return enc, name
	}

	// The detector found nothing to commit to: degrade to an
	// error-tolerant ascii-compatible decode rather than failing.
	return charmap.Windows1252, "ascii"
}

// charsetLabel extracts the charset param, accepting the whitespace- and
// case-insensitive CHARSET/charset key names the original server tolerated.
func charsetLabel(params map[string]string) string {
	for k, v := range params {
		if strings.EqualFold(strings.TrimSpace(k), "charset") {
			return strings.ToLower(strings.TrimSpace(v))
		}
	}
	return ""
}
