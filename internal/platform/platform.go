// Package platform holds the metric catalogs and reader sets of the
// supported server platforms.
package platform

import (
	"sort"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/telemetry"
)

// Builder returns a fresh reader set. Each call allocates its own definitions.
type Builder func() []telemetry.Reader

var builders = map[string]Builder{
	"purley": Purley,
}

// Readers builds the reader set of the named platform
func Readers(name string) ([]telemetry.Reader, error) {
	build, ok := builders[name]
	if !ok {
		return nil, errors.New().WithData(ErrUnknownPlatform, name)
	}
	return build(), nil
}

// Names lists the known platforms
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
