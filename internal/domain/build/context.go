package build

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/ptah/internal/domain/device"
	"github.com/oshokin/ptah/internal/merge"
)

// State is the lifecycle stage of a Build Context.
type State string

const (
	// StateCreated is a context whose prepare is still running.
	StateCreated State = "created"
	// StateStaged is a context whose staged root is complete.
	StateStaged State = "staged"
)

// Context describes one prepare for one device.
type Context struct {
	// ID is the request ID of the prepare that produced the context.
	ID string
	// Device is the canonical hardware address.
	Device device.ID
	// Profile is the name of the profile the device is built with.
	Profile string
	// Tokens are the fingerprint tokens in accumulation order.
	Tokens []string
	// Records are the merge records applied to the staged root.
	Records []merge.Record
	// Fingerprint is the hex digest written to the version file.
	Fingerprint string
	// StagedRoot is the directory passed to the image builder as FILES.
	StagedRoot string
	// State is the lifecycle stage.
	State State
	// CreatedAt is when the prepare started.
	CreatedAt time.Time
}

// New returns a context in the created state with a fresh request ID.
func New(id device.ID, profile string, now time.Time) *Context {
	return &Context{
		ID:        uuid.NewString(),
		Device:    id,
		Profile:   profile,
		State:     StateCreated,
		CreatedAt: now,
	}
}

// Stage records the outcome of a successful merge.
func (c *Context) Stage(fingerprint, stagedRoot string, tokens []string, records []merge.Record) {
	c.Fingerprint = fingerprint
	c.StagedRoot = stagedRoot
	c.Tokens = slices.Clone(tokens)
	c.Records = slices.Clone(records)
	c.State = StateStaged
}

// IsStaged reports whether the staged root can be handed to the image builder.
func (c *Context) IsStaged() bool {
	return c != nil && c.State == StateStaged
}

// Clone returns a copy that shares no slices with c.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}

	cloned := *c
	cloned.Tokens = slices.Clone(c.Tokens)
	cloned.Records = slices.Clone(c.Records)

	return &cloned
}
