package interfaces

import (
	"context"
	"os"
	"sort"
)

// ExtensionOption is the option key that selects the extension of a
// representation. It never participates in the representation key's option
// tokens.
const ExtensionOption = "extension"

// RepresentationOptions parameterize a representation request, e.g.
// {"extension": "jpg", "width": "100"}.
type RepresentationOptions map[string]string

// Without returns a copy of the options with key removed.
func (o RepresentationOptions) Without(key string) RepresentationOptions {
	out := make(RepresentationOptions, len(o))
	for k, v := range o {
		if k != key {
			out[k] = v
		}
	}
	return out
}

// Tokens flattens the option values in ascending key order, so identical
// option sets always produce the same representation key.
func (o RepresentationOptions) Tokens() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tokens := make([]string, 0, len(keys))
	for _, k := range keys {
		tokens = append(tokens, o[k])
	}
	return tokens
}

// RepresentationHandler derives a secondary artifact from an attachment's
// primary file.
type RepresentationHandler interface {
	// CreateRepresentation returns a local artifact file for the given type,
	// extension and options, or (nil, nil) when this handler cannot service
	// the request. Callers own the returned file and must release it with
	// ReleaseLocalCopy.
	CreateRepresentation(ctx context.Context, att *Attachment, backend StorageBackend, rtype, ext string, opts RepresentationOptions) (*os.File, error)
}
