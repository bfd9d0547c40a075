package retry

import "sync/atomic"

// HostPicker cycles through an immutable list of destination hosts. Each
// retry attempt rebinds a fresh destination client from Current() rather
// than mutating a shared client struct in place; OnRetry calls Next() to
// fail over to the next host before the following attempt runs.
type HostPicker struct {
	hosts []string
	idx   atomic.Int64
}

// NewHostPicker builds a picker over hosts, starting at hosts[0]. It
// panics if hosts is empty: a picker with no hosts is a caller bug, not a
// runtime condition to recover from.
func NewHostPicker(hosts []string) *HostPicker {
	if len(hosts) == 0 {
		panic("retry: NewHostPicker requires at least one host")
	}
	cp := make([]string, len(hosts))
	copy(cp, hosts)
	return &HostPicker{hosts: cp}
}

// Current returns the host the next attempt should use.
func (p *HostPicker) Current() string {
	i := p.idx.Load() % int64(len(p.hosts))
	return p.hosts[i]
}

// Next advances to the next host and returns it.
func (p *HostPicker) Next() string {
	p.idx.Add(1)
	return p.Current()
}

// Len reports how many hosts are in rotation.
func (p *HostPicker) Len() int {
	return len(p.hosts)
}
