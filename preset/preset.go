// Package preset describes named communication routines: what a routine is
// called on each side, where it sends by default, how long it waits, how
// replies from several connections are combined, and the user code bound to it.
package preset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wspreset/message"
	"wspreset/registry"
)

var ErrInvalidPreset = errors.New("preset: invalid preset")

// NoTimeout makes Get wait for a reply indefinitely. Requests to a peer that
// never answers then stay pending for the life of the endpoint.
const NoTimeout time.Duration = -1

// DataMode controls GetCustomData over several connections.
type DataMode string

// SendMode controls how many resolved connections a call writes to.
type SendMode string

// GetMode controls how replies from several connections are combined.
type GetMode string

const (
	DataFirst   DataMode = "first"
	DataCollect DataMode = "collect"

	SendFirst SendMode = "first"
	SendAll   SendMode = "all"

	// GetFirst races the connections and returns the first reply.
	GetFirst   GetMode = "first"
	GetCollect GetMode = "collect"
)

type TransferOptions struct {
	DataMode DataMode
	SendMode SendMode
	GetMode  GetMode
}

// DefaultTransfer sends to every resolved connection and returns the first
// reply and the first connection's data.
func DefaultTransfer() TransferOptions {
	return TransferOptions{DataMode: DataFirst, SendMode: SendAll, GetMode: GetFirst}
}

// Merge overrides the fields of t that o sets.
func (t TransferOptions) Merge(o TransferOptions) TransferOptions {
	if o.DataMode != "" {
		t.DataMode = o.DataMode
	}
	if o.SendMode != "" {
		t.SendMode = o.SendMode
	}
	if o.GetMode != "" {
		t.GetMode = o.GetMode
	}
	return t
}

func (t TransferOptions) Validate() error {
	switch t.DataMode {
	case "", DataFirst, DataCollect:
	default:
		return fmt.Errorf("%w: data mode %q", ErrInvalidPreset, t.DataMode)
	}
	switch t.SendMode {
	case "", SendFirst, SendAll:
	default:
		return fmt.Errorf("%w: send mode %q", ErrInvalidPreset, t.SendMode)
	}
	switch t.GetMode {
	case "", GetFirst, GetCollect:
	default:
		return fmt.Errorf("%w: get mode %q", ErrInvalidPreset, t.GetMode)
	}
	return nil
}

// Surface is what a Method gets to talk back through. It is bound to the
// preset, the connections resolved for this dispatch and, on a reply leg,
// the id the peer is waiting on.
type Surface interface {
	Send(content any, opts ...CallOption)
	Get(ctx context.Context, content any, opts ...CallOption) (any, error)
	GetCustomData(key string, opts ...CallOption) any
	SetCustomData(key string, value any)
	// Origin is the identifier of the connection an inbound message came
	// from, empty for a local launch.
	Origin() string
}

// Method is the user code bound to a preset. For an inbound request a
// non-nil result is sent back as the reply.
type Method func(ctx context.Context, h Surface, content any) (any, error)

// Transform rewrites content crossing the wire. adapter is the preset's
// (or the call's) adapter options.
type Transform func(content any, adapter map[string]any) any

// ErrorCatcher receives failures of the preset's method.
type ErrorCatcher func(p *Preset, err error)

type Preset struct {
	Name         string
	HandlerName  string
	Timeout      time.Duration // 0: engine default, NoTimeout: wait forever
	Transfer     TransferOptions
	Adapter      map[string]any
	Target       registry.Filter
	Inbound      Transform
	Outbound     Transform
	ErrorCatcher ErrorCatcher
	Method       Method
}

type Option func(p *Preset)

func WithHandler(name string) Option {
	return func(p *Preset) { p.HandlerName = name }
}

func WithTarget(f registry.Filter) Option {
	return func(p *Preset) { p.Target = f }
}

func WithTimeout(d time.Duration) Option {
	return func(p *Preset) { p.Timeout = d }
}

func WithMethod(m Method) Option {
	return func(p *Preset) { p.Method = m }
}

func WithTransfer(t TransferOptions) Option {
	return func(p *Preset) { p.Transfer = p.Transfer.Merge(t) }
}

func WithAdapter(a map[string]any) Option {
	return func(p *Preset) { p.Adapter = a }
}

func WithInbound(fn Transform) Option {
	return func(p *Preset) { p.Inbound = fn }
}

func WithOutbound(fn Transform) Option {
	return func(p *Preset) { p.Outbound = fn }
}

func WithErrorCatcher(fn ErrorCatcher) Option {
	return func(p *Preset) { p.ErrorCatcher = fn }
}

// New builds and validates a user preset.
func New(name string, opts ...Option) (*Preset, error) {
	p := newPreset(name, opts...)
	if strings.HasPrefix(name, message.ReservedPrefix) {
		return nil, fmt.Errorf("%w: name %q is reserved", ErrInvalidPreset, name)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// System builds a preset under a reserved name, for the endpoints' own use.
func System(name string, opts ...Option) *Preset {
	return newPreset(name, opts...)
}

func newPreset(name string, opts ...Option) *Preset {
	p := &Preset{Name: name, Transfer: DefaultTransfer()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Preset) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPreset)
	}
	if p.Timeout < 0 && p.Timeout != NoTimeout {
		return fmt.Errorf("%w: negative timeout %s", ErrInvalidPreset, p.Timeout)
	}
	return p.Transfer.Validate()
}

// Handler is the name the peer dispatches on.
func (p *Preset) Handler() string {
	if p.HandlerName != "" {
		return p.HandlerName
	}
	return p.Name
}

// In applies the inbound transform.
func (p *Preset) In(content any, adapter map[string]any) any {
	if p.Inbound == nil {
		return content
	}
	return p.Inbound(content, adapter)
}

// Out applies the outbound transform.
func (p *Preset) Out(content any, adapter map[string]any) any {
	if p.Outbound == nil {
		return content
	}
	return p.Outbound(content, adapter)
}
