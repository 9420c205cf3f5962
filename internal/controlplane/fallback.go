// +build !linux

package controlplane

import "vicore/internal/verrors"

// Linux is the non-Linux stub: this module's VA-reservation trick requires
// real anonymous-mmap control only available on Linux. Callers on other
// platforms should use Sim instead.
type Linux struct{}

// NewLinux always fails on non-Linux platforms.
func NewLinux() (*Linux, error) {
	return nil, verrors.Wrap(verrors.ErrUnsupported, "controlplane: Linux control plane requires GOOS=linux")
}

func (l *Linux) AllocateRXQueue(req AllocateRXQueueRequest) (ResourceID, error) {
	return 0, verrors.Wrap(verrors.ErrUnsupported, "controlplane: unsupported on this platform")
}

func (l *Linux) MmapResource(resource ResourceID, offset, length int) ([]byte, error) {
	return nil, verrors.Wrap(verrors.ErrUnsupported, "controlplane: unsupported on this platform")
}

func (l *Linux) RefreshMappings(req RefreshRequest) (uint64, error) {
	return 0, verrors.Wrap(verrors.ErrUnsupported, "controlplane: unsupported on this platform")
}

func (l *Linux) ObservedGeneration(resource ResourceID) (uint64, error) {
	return 0, verrors.Wrap(verrors.ErrUnsupported, "controlplane: unsupported on this platform")
}

func (l *Linux) Release(resource ResourceID) error {
	return verrors.Wrap(verrors.ErrUnsupported, "controlplane: unsupported on this platform")
}
