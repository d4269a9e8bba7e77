//go:build linux

package export

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cilium/ebpf"

	"github.com/srodi/csprof/pkg/types"
)

// Publisher owns the exported BPF array map.
type Publisher struct {
	m        *ebpf.Map
	capacity uint32
}

// NewPublisher creates an array map with one entry per thread slot and pins
// it at pinPath when that is non-empty.
func NewPublisher(capacity int, pinPath string) (*Publisher, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("thread map capacity must be positive, got %d", capacity)
	}
	m, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       MapName,
		Type:       ebpf.Array,
		KeySize:    4,
		ValueSize:  uint32(binary.Size(threadValue{})),
		MaxEntries: uint32(capacity),
	})
	if err != nil {
		return nil, fmt.Errorf("creating thread map: %w", err)
	}
	if pinPath != "" {
		if err := m.Pin(pinPath); err != nil {
			m.Close()
			return nil, fmt.Errorf("pinning thread map at %s: %w", pinPath, err)
		}
	}
	return &Publisher{m: m, capacity: uint32(capacity)}, nil
}

// Publish writes one entry per row. Rows beyond the map capacity are an error.
func (p *Publisher) Publish(rows []types.ThreadStat) error {
	for _, row := range rows {
		slot := uint32(row.Slot)
		if slot >= p.capacity {
			return fmt.Errorf("slot %d exceeds thread map capacity %d", row.Slot, p.capacity)
		}
		if err := p.m.Put(slot, encode(row)); err != nil {
			return fmt.Errorf("writing slot %d: %w", row.Slot, err)
		}
	}
	return nil
}

// Lookup reads back one slot. ok is false for slots never published.
func (p *Publisher) Lookup(slot int) (row types.ThreadStat, ok bool, err error) {
	var v threadValue
	if err := p.m.Lookup(uint32(slot), &v); err != nil {
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return types.ThreadStat{}, false, nil
		}
		return types.ThreadStat{}, false, fmt.Errorf("reading slot %d: %w", slot, err)
	}
	if v.Flags&flagUsed == 0 {
		return types.ThreadStat{}, false, nil
	}
	return decode(uint32(slot), v), true, nil
}

// Snapshot returns every published slot in key order.
func (p *Publisher) Snapshot() ([]types.ThreadStat, error) {
	var rows []types.ThreadStat
	iter := p.m.Iterate()
	var slot uint32
	var v threadValue
	for iter.Next(&slot, &v) {
		if v.Flags&flagUsed == 0 {
			continue
		}
		rows = append(rows, decode(slot, v))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("iterating thread map: %w", err)
	}
	return rows, nil
}

// Reset zeroes every entry. Array map entries cannot be deleted.
func (p *Publisher) Reset() error {
	var zero threadValue
	for slot := uint32(0); slot < p.capacity; slot++ {
		if err := p.m.Put(slot, zero); err != nil {
			return fmt.Errorf("clearing slot %d: %w", slot, err)
		}
	}
	return nil
}

// Close unpins and releases the map.
func (p *Publisher) Close() error {
	var err error
	if p.m.IsPinned() {
		err = errors.Join(err, p.m.Unpin())
	}
	return errors.Join(err, p.m.Close())
}
