package build

import (
	"sync"

	"github.com/oshokin/ptah/internal/domain/device"
)

type deviceLock struct {
	mu   sync.Mutex
	refs int
}

// deviceLocks hands out one mutex per device and forgets it once unused.
type deviceLocks struct {
	mu    sync.Mutex
	locks map[device.ID]*deviceLock
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{locks: make(map[device.ID]*deviceLock)}
}

// Lock blocks until the device is free and returns the matching unlock.
func (d *deviceLocks) Lock(id device.ID) func() {
	d.mu.Lock()

	lock, ok := d.locks[id]
	if !ok {
		lock = new(deviceLock)
		d.locks[id] = lock
	}

	lock.refs++
	d.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		d.mu.Lock()
		defer d.mu.Unlock()

		lock.refs--
		if lock.refs == 0 {
			delete(d.locks, id)
		}
	}
}
