// Package controlplane models the kernel driver collaborator that the VI
// core treats as an opaque, out-of-scope peer: resource allocation, memory
// mapping, and superbuffer-mapping refresh. Two concrete implementations
// ship: a Linux-only one (linux.go) that really reserves an anonymous
// PROT_NONE VA window the way the original's efct_vi_mmap_init does, and an
// in-memory simulation (sim.go) used by tests and the benchmark CLI that
// behaves identically from the core's point of view without privileged
// syscalls or real NIC hardware.
package controlplane

// ResourceID identifies a kernel-side allocation (an RX queue's superbuffer
// pool, a CTPIO aperture, ...). Opaque to the core.
type ResourceID uint64

// AllocateRXQueueRequest is the input to AllocateRXQueue.
type AllocateRXQueueRequest struct {
	VIID             uint32
	NHugePages       int
	RequestTimestamp bool
}

// RefreshRequest is the input to RefreshMappings.
type RefreshRequest struct {
	Resource         ResourceID
	MaxSuperbufs     int
	CurrentMappings  []uint32 // superbuffer ids currently believed mapped
}

// ControlPlane is the out-of-scope kernel driver collaborator. The core
// never assumes anything about how these requests are serviced; it only
// observes ResourceID values, []byte regions, and a refreshed generation
// counter.
type ControlPlane interface {
	// AllocateRXQueue asks the driver to reserve a superbuffer pool for a
	// new RX queue, returning an opaque resource id.
	AllocateRXQueue(req AllocateRXQueueRequest) (ResourceID, error)

	// MmapResource maps length bytes of resource starting at offset into
	// the calling process, returning the backing slice. The core treats
	// the returned slice as the superbuffer VA window or CTPIO aperture.
	MmapResource(resource ResourceID, offset, length int) ([]byte, error)

	// RefreshMappings asks the driver to re-mmap the current superbuffer
	// set for resource, returning the new configuration generation.
	RefreshMappings(req RefreshRequest) (generation uint64, err error)

	// ObservedGeneration is a cheap (non-syscall, shared-memory) read of
	// the generation counter the kernel bumps whenever it changes a
	// resource's superbuffer mappings out of band. RxEngine polls this on
	// every iteration to decide whether a RefreshMappings call is needed.
	ObservedGeneration(resource ResourceID) (uint64, error)

	// Release tears down a previously allocated resource.
	Release(resource ResourceID) error
}
