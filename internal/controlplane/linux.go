// +build linux

package controlplane

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sys/unix"

	"vicore/internal/verrors"
)

// generationCacheSize bounds the per-resource refresh bookkeeping cache so
// a VI attaching and detaching many RX queues over a process lifetime
// cannot grow this map without bound.
const generationCacheSize = 4096

// Linux is a ControlPlane backed by real anonymous memory mappings. It
// stands in for the actual NIC driver: AllocateRXQueue reserves a
// PROT_NONE VA window sized for the requested huge pages (mirroring
// efct_vi_mmap_init's VA reservation trick), MmapResource lays a
// read/write mapping into a sub-range of that window, and RefreshMappings
// bumps a monotonic generation counter cached in a bounded LRU.
type Linux struct {
	mu        sync.Mutex
	next      ResourceID
	windows   map[ResourceID][]byte
	gens      *lru.Cache // ResourceID -> uint64
}

// NewLinux constructs a Linux control plane.
func NewLinux() (*Linux, error) {
	cache, err := lru.New(generationCacheSize)
	if err != nil {
		return nil, fmt.Errorf("controlplane: allocate generation cache: %w", err)
	}
	return &Linux{windows: make(map[ResourceID][]byte), gens: cache}, nil
}

// AllocateRXQueue reserves an anonymous PROT_NONE window sized for the
// requested huge pages, then upgrades it to PROT_READ|PROT_WRITE so the
// simulated "NIC" (this process) can fill it. A real driver would instead
// fault individual superbuffer-sized regions in as they are produced; this
// stand-in upgrades the whole window at once since there is no second
// privileged party to do the per-superbuffer mapping.
func (l *Linux) AllocateRXQueue(req AllocateRXQueueRequest) (ResourceID, error) {
	pages := req.NHugePages
	if pages <= 0 {
		pages = 1
	}
	size := pages * 2 * 1024 * 1024
	b, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if err != nil {
		return 0, verrors.Wrapf(verrors.ErrNoResource, err, "mmap PROT_NONE reservation")
	}
	if err := unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		_ = unix.Munmap(b)
		return 0, verrors.Wrapf(verrors.ErrNoResource, err, "mprotect reservation")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	id := l.next
	l.windows[id] = b
	l.gens.Add(id, uint64(1))
	return id, nil
}

// MmapResource returns a sub-slice of the reserved window.
func (l *Linux) MmapResource(resource ResourceID, offset, length int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[resource]
	if !ok {
		return nil, verrors.Wrap(verrors.ErrNoResource, "unknown resource")
	}
	if offset < 0 || length < 0 || offset+length > len(w) {
		return nil, verrors.Wrap(verrors.ErrInvalidArgument, "mmap range exceeds reserved window")
	}
	return w[offset : offset+length], nil
}

// RefreshMappings acknowledges the current superbuffer set for resource,
// returning the generation now in effect. A real driver would additionally
// re-fault individual superbuffer pages here; this stand-in has no second
// privileged party to change mappings out of band, so it only reports the
// generation ObservedGeneration already exposes.
func (l *Linux) RefreshMappings(req RefreshRequest) (uint64, error) {
	return l.ObservedGeneration(req.Resource)
}

// ObservedGeneration returns the resource's cached generation counter.
func (l *Linux) ObservedGeneration(resource ResourceID) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.windows[resource]; !ok {
		return 0, verrors.Wrap(verrors.ErrNoResource, "unknown resource")
	}
	v, _ := l.gens.Get(resource)
	gen, _ := v.(uint64)
	return gen, nil
}

// Release unmaps the resource's window.
func (l *Linux) Release(resource ResourceID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[resource]
	if !ok {
		return nil
	}
	delete(l.windows, resource)
	l.gens.Remove(resource)
	if err := unix.Munmap(w); err != nil {
		return verrors.Wrapf(verrors.ErrNoResource, err, "munmap")
	}
	return nil
}
