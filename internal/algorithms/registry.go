// Package algorithms holds the small set of concrete diff operations the
// orchestrator dispatches requests to, each registered under the name a
// client names in its request path.
package algorithms

import "github.com/webmonitoring/diffing-service/internal/decode"

// Result is what a registered algorithm hands back to the orchestrator,
// merged into the success response envelope.
type Result struct {
	ChangeCount int
	Fields      map[string]any
}

// Func is the signature every registered algorithm implements: a pure
// function over two already-fetched (and, if requested, decoded) bodies plus
// the request's algorithm-specific options.
type Func func(a, b decode.DecodedBody, options map[string]string) (Result, error)

// Descriptor pairs an algorithm's implementation with whether it needs
// decoded text.
type Descriptor struct {
	Name         string
	RequiresText bool
	Run          Func
}

var registry = map[string]Descriptor{}

func register(d Descriptor) {
	registry[d.Name] = d
}

// Get looks up a registered algorithm by name.
func Get(name string) (Descriptor, bool) {
	d, ok := registry[name]
	return d, ok
}

// Names returns every registered algorithm name, in no particular order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

func init() {
	register(Descriptor{Name: "identical_bytes", RequiresText: false, Run: identicalBytes})
	register(Descriptor{Name: "length", RequiresText: false, Run: lengthCompare})
	register(Descriptor{Name: "html_source_dmp", RequiresText: true, Run: htmlSourceDMP})
	register(Descriptor{Name: "html_token", RequiresText: true, Run: htmlToken})
	register(Descriptor{Name: "links", RequiresText: true, Run: linksDiff})
	register(Descriptor{Name: "side_by_side_text", RequiresText: true, Run: sideBySideText})
}
