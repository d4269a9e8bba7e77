//go:build !linux

package export

import "github.com/srodi/csprof/pkg/types"

// Publisher is a placeholder on non-Linux platforms.
type Publisher struct{}

// NewPublisher returns ErrUnsupported because BPF maps only exist on Linux.
func NewPublisher(capacity int, pinPath string) (*Publisher, error) {
	return nil, ErrUnsupported
}

// Publish always fails on unsupported platforms.
func (p *Publisher) Publish(rows []types.ThreadStat) error {
	return ErrUnsupported
}

// Lookup always fails on unsupported platforms.
func (p *Publisher) Lookup(slot int) (types.ThreadStat, bool, error) {
	return types.ThreadStat{}, false, ErrUnsupported
}

// Snapshot always fails on unsupported platforms.
func (p *Publisher) Snapshot() ([]types.ThreadStat, error) {
	return nil, ErrUnsupported
}

// Reset does nothing on unsupported platforms.
func (p *Publisher) Reset() error {
	return nil
}

// Close is a no-op stub.
func (p *Publisher) Close() error {
	return nil
}
