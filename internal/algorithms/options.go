package algorithms

import "github.com/mitchellh/mapstructure"

// renderOptions are the algorithm-agnostic rendering knobs every segment-
// based diff (html_source_dmp, html_token, links) honors, decoded from the
// request's loose options map rather than hand-parsed per algorithm.
type renderOptions struct {
	Include string `mapstructure:"include"`
}

// decodeRenderOptions decodes the request's string-valued options map into
// renderOptions, ignoring any keys it doesn't recognize (algorithm-specific
// options that don't apply to rendering).
func decodeRenderOptions(options map[string]string) renderOptions {
	var out renderOptions
	_ = mapstructure.Decode(options, &out)
	return out
}

// filterSegments drops equal segments from a diff result unless the caller
// asked for include=all, matching the request-level "include" option's
// meaning of whether unchanged spans are present in the response body.
func filterSegments(segments []segment, opts renderOptions) []segment {
	if opts.Include == "all" {
		return segments
	}
	filtered := make([]segment, 0, len(segments))
	for _, s := range segments {
		if s.Op != opEqual {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
