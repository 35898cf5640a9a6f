package capture

import "context"

// Kind identifies which capture source a handle or artifact belongs to.
type Kind string

const (
	KindDevice  Kind = "device"
	KindDisplay Kind = "display"
)

func (k Kind) String() string { return string(k) }

// Input describes how an encoder opens a source.
type Input struct {
	Format string
	Target string
	Audio  string
}

// Handle is an exclusively held capture source.
type Handle interface {
	Kind() Kind
	Input() Input
	// Revoked is closed when the system takes the source away (device
	// unplugged, display session ended). May return nil if revocation is
	// never signalled out of band.
	Revoked() <-chan struct{}
	// Released reports whether Release has been called.
	Released() bool
	Release() error
}

// Provider grants access to capture sources.
type Provider interface {
	Acquire(ctx context.Context, kind Kind) (Handle, error)
}
