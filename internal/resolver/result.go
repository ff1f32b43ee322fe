package resolver

import (
	"fmt"
	"os"

	"github.com/oshokin/ptah/internal/fault"
	"github.com/oshokin/ptah/internal/merge"
)

// Result is what one entry contributes to a build.
type Result struct {
	Records []merge.Record
	Tokens  []string
}

// Add appends another result keeping order.
func (r *Result) Add(other *Result) {
	if other == nil {
		return
	}

	r.Records = append(r.Records, other.Records...)
	r.Tokens = append(r.Tokens, other.Tokens...)
}

// requirePath fails with a resolution error when a declared item is absent after a fetch.
func requirePath(path, what string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s not found in fetched content: %w", fault.ErrResolution, what, err)
	}

	return nil
}
