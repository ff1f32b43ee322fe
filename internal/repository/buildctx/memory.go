package buildctx

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/oshokin/ptah/internal/domain/build"
	"github.com/oshokin/ptah/internal/domain/device"
	"github.com/oshokin/ptah/internal/fault"
)

// Repository defines persistence operations for staged build contexts.
type Repository interface {
	Save(ctx context.Context, buildCtx *build.Context) error
	Load(ctx context.Context, id device.ID) (*build.Context, error)
	Delete(ctx context.Context, id device.ID)
}

// EvictFunc is called with a context that expired or was deleted.
// It runs on its own goroutine.
type EvictFunc func(*build.Context)

// minCleanupInterval bounds how often expired entries are swept.
const minCleanupInterval = 10 * time.Millisecond

// MemoryRepository keeps contexts in memory with a TTL.
type MemoryRepository struct {
	items *gocache.Cache
}

// NewMemoryRepository creates a repository whose entries live for ttl.
// A non-positive ttl keeps entries until they are deleted.
func NewMemoryRepository(ttl time.Duration, onEvict EvictFunc) *MemoryRepository {
	expiration, cleanup := gocache.NoExpiration, time.Duration(0)
	if ttl > 0 {
		expiration, cleanup = ttl, max(ttl/2, minCleanupInterval)
	}

	items := gocache.New(expiration, cleanup)

	if onEvict != nil {
		items.OnEvicted(func(_ string, value any) {
			if buildCtx, ok := value.(*build.Context); ok {
				go onEvict(buildCtx)
			}
		})
	}

	return &MemoryRepository{items: items}
}

// Save stores a staged context, replacing any earlier one for the device.
// Replacing does not call the eviction hook.
func (r *MemoryRepository) Save(_ context.Context, buildCtx *build.Context) error {
	if !buildCtx.IsStaged() {
		return fmt.Errorf("%w: build context %s is not staged", fault.ErrInvalidInput, buildCtx.ID)
	}

	r.items.SetDefault(string(buildCtx.Device), buildCtx.Clone())

	return nil
}

// Load returns the device's context or fault.ErrNotFound.
func (r *MemoryRepository) Load(_ context.Context, id device.ID) (*build.Context, error) {
	value, ok := r.items.Get(string(id))
	if !ok {
		return nil, fmt.Errorf("%w: device %s is not prepared", fault.ErrNotFound, id)
	}

	buildCtx, ok := value.(*build.Context)
	if !ok {
		return nil, fmt.Errorf("%w: device %s is not prepared", fault.ErrNotFound, id)
	}

	return buildCtx.Clone(), nil
}

// Delete removes the device's context if present.
func (r *MemoryRepository) Delete(_ context.Context, id device.ID) {
	r.items.Delete(string(id))
}

// Len reports the number of stored contexts, expired ones included until swept.
func (r *MemoryRepository) Len() int {
	return r.items.ItemCount()
}
