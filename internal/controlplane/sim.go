package controlplane

import (
	"sync"

	"vicore/internal/verrors"
)

// Sim is an in-memory ControlPlane implementation used by tests and the
// benchmark CLI. It behaves identically to the Linux implementation from
// the core's point of view: AllocateRXQueue hands out resource ids backed
// by plain Go byte slices, MmapResource returns a window into that slice,
// and RefreshMappings bumps a per-resource generation counter that callers
// can be made to observe a mismatch against (via BumpGeneration) to
// exercise the refresh path without real hardware.
type Sim struct {
	mu         sync.Mutex
	next       ResourceID
	regions    map[ResourceID][]byte
	generation map[ResourceID]uint64
	failNext   map[ResourceID]int // remaining RefreshMappings calls to fail
}

// NewSim returns an empty simulated control plane.
func NewSim() *Sim {
	return &Sim{
		regions:    make(map[ResourceID][]byte),
		generation: make(map[ResourceID]uint64),
		failNext:   make(map[ResourceID]int),
	}
}

// AllocateRXQueue reserves a zeroed region sized for n_huge_pages (treated
// here as 2MiB units, matching the original's huge-page accounting) and
// returns a fresh resource id.
func (s *Sim) AllocateRXQueue(req AllocateRXQueueRequest) (ResourceID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := s.next
	size := req.NHugePages * 2 * 1024 * 1024
	if size <= 0 {
		size = 2 * 1024 * 1024
	}
	s.regions[id] = make([]byte, size)
	s.generation[id] = 1
	return id, nil
}

// MmapResource returns a sub-slice of the simulated region.
func (s *Sim) MmapResource(resource ResourceID, offset, length int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	region, ok := s.regions[resource]
	if !ok {
		return nil, verrors.Wrap(verrors.ErrNoResource, "unknown resource")
	}
	if offset < 0 || length < 0 || offset+length > len(region) {
		// Grow on demand so callers can mmap regions bigger than the
		// initial allocation guess (e.g. a double-mapped aperture).
		grown := make([]byte, offset+length)
		copy(grown, region)
		s.regions[resource] = grown
		region = grown
	}
	return region[offset : offset+length], nil
}

// RefreshMappings re-mmaps (in this simulation: acknowledges) the current
// superbuffer set for resource and returns the generation now in effect.
// It does not itself advance the generation counter; only BumpGeneration
// (standing in for the kernel) does that. Primed via FailNextRefresh to
// exercise the control-plane-error failure path.
func (s *Sim) RefreshMappings(req RefreshRequest) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.failNext[req.Resource]; n > 0 {
		s.failNext[req.Resource] = n - 1
		return s.generation[req.Resource], verrors.Wrap(verrors.ErrControlPlane, "simulated refresh failure")
	}
	gen, ok := s.generation[req.Resource]
	if !ok {
		return 0, verrors.Wrap(verrors.ErrNoResource, "unknown resource")
	}
	return gen, nil
}

// ObservedGeneration returns the resource's current generation counter,
// the same value BumpGeneration/RefreshMappings maintain; simulating the
// cheap shared-memory read a real kernel driver would publish.
func (s *Sim) ObservedGeneration(resource ResourceID) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.generation[resource]
	if !ok {
		return 0, verrors.Wrap(verrors.ErrNoResource, "unknown resource")
	}
	return gen, nil
}

// Release forgets the resource.
func (s *Sim) Release(resource ResourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.regions, resource)
	delete(s.generation, resource)
	delete(s.failNext, resource)
	return nil
}

// BumpGeneration simulates the kernel changing the superbuffer mapping set
// out of band, forcing the next RxEngine poll to observe a mismatch and
// call refresh.
func (s *Sim) BumpGeneration(resource ResourceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation[resource]++
}

// Generation returns the resource's current generation counter.
func (s *Sim) Generation(resource ResourceID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation[resource]
}

// FailNextRefresh arms the next n calls to RefreshMappings for this
// resource to fail with ErrControlPlane, used to exercise the "refresh
// failures propagate to the caller" failure semantics in §4.1.
func (s *Sim) FailNextRefresh(resource ResourceID, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[resource] = n
}
