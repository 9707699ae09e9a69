// Package cachekey computes the deterministic response fingerprint (ETag):
// a pure function of the request's algorithm, the two resource identities,
// and its options. Equal inputs always produce an equal ETag. A resource's
// identity is its hash hint when the request supplies one, so a tag can be
// produced before any upstream call is made; otherwise it is the sha256 of
// the fetched body.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Compute returns a quoted, weak-comparison-safe ETag for the given request
// shape. aIdentity/bIdentity should be the supplied hash hint when present,
// or the fetched body's own hash once it's known: the orchestrator computes
// a preliminary ETag from URLs, options and hash hints before fetching, then
// a final one once body hashes are available.
func Compute(algorithm, aURL, bURL string, options map[string]string, aIdentity, bIdentity string) string {
	h := sha256.New()
	fmt.Fprintf(h, "algorithm=%s\n", algorithm)
	fmt.Fprintf(h, "a=%s\n", aURL)
	fmt.Fprintf(h, "b=%s\n", bURL)
	fmt.Fprintf(h, "a_identity=%s\n", aIdentity)
	fmt.Fprintf(h, "b_identity=%s\n", bIdentity)
	fmt.Fprintf(h, "options=%s\n", canonicalizeOptions(options))
	return `"` + hex.EncodeToString(h.Sum(nil))[:32] + `"`
}

// canonicalizeOptions renders options as sorted key=value pairs so that
// equivalent query strings (differing only in parameter order) fingerprint
// identically.
func canonicalizeOptions(options map[string]string) string {
	if len(options) == 0 {
		return ""
	}
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+options[k])
	}
	return strings.Join(parts, "&")
}
