package testutil

import (
	"testing"

	"github.com/google/pprof/profile"
)

// ParseProfile decodes a serialized pprof profile, gzipped or not, and fails
// the test if it is malformed.
func ParseProfile(t *testing.T, data []byte) *profile.Profile {
	t.Helper()
	p, err := profile.ParseData(data)
	if err != nil {
		t.Fatalf("invalid profile: %v", err)
	}
	return p
}

// StackNames returns the function names of a sample from leaf to root,
// expanding inlined lines innermost first.
func StackNames(s *profile.Sample) []string {
	var names []string
	for _, loc := range s.Location {
		for _, ln := range loc.Line {
			if ln.Function != nil {
				names = append(names, ln.Function.Name)
			}
		}
	}
	return names
}

// FindMapping returns the mapping with the given file name, or nil.
func FindMapping(p *profile.Profile, file string) *profile.Mapping {
	for _, m := range p.Mapping {
		if m.File == file {
			return m
		}
	}
	return nil
}
