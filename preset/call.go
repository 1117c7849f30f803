package preset

import (
	"time"

	"wspreset/registry"
)

// Call is the effective configuration of one Send/Get/GetCustomData:
// the preset's settings overridden by call options.
type Call struct {
	HandlerName string
	Target      registry.Filter
	Transfer    TransferOptions
	Adapter     map[string]any
	Timeout     time.Duration
}

type CallOption func(c *Call)

// Handler addresses a different peer-side preset for this call.
func Handler(name string) CallOption {
	return func(c *Call) { c.HandlerName = name }
}

// To replaces the connections of the dispatch for this call.
func To(f registry.Filter) CallOption {
	return func(c *Call) { c.Target = f }
}

func Transfer(t TransferOptions) CallOption {
	return func(c *Call) { c.Transfer = c.Transfer.Merge(t) }
}

func Adapter(a map[string]any) CallOption {
	return func(c *Call) { c.Adapter = a }
}

func Timeout(d time.Duration) CallOption {
	return func(c *Call) { c.Timeout = d }
}

// Resolve starts from the preset and applies opts. Target is left nil unless
// an option sets it, so the dispatch's own connections are used.
func (p *Preset) Resolve(opts ...CallOption) Call {
	c := Call{
		HandlerName: p.Handler(),
		Transfer:    p.Transfer,
		Adapter:     p.Adapter,
		Timeout:     p.Timeout,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
