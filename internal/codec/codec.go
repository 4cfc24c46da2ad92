// Package codec renders collection output in the formats the CLI and the
// HTTP API offer.
package codec

import (
	"errors"
	"fmt"
	"io"
	"sort"
)

// ErrUnsupportedValue is returned by encoders that only render some types
var ErrUnsupportedValue = errors.New("value not supported by this format")

// Encoder writes a value in one output format
type Encoder interface {
	Encode(v any, w io.Writer) error
	Format() string
	ContentType() string
}

var encoders = map[string]Encoder{
	"json":  NewJSONCodec(),
	"yaml":  NewYAMLCodec(),
	"table": NewTableCodec(),
}

// ForFormat returns the encoder registered under name
func ForFormat(name string) (Encoder, error) {
	if name == "yml" {
		name = "yaml"
	}
	enc, ok := encoders[name]
	if !ok {
		return nil, fmt.Errorf("unknown output format %q (want one of %v)", name, Formats())
	}
	return enc, nil
}

// Formats lists the registered format names
func Formats() []string {
	names := make([]string, 0, len(encoders))
	for name := range encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
