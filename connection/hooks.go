package connection

import "wspreset/transport"

// Policy decides what happens when a hook returns a nil verdict.
type Policy int

const (
	PolicyPropagate Policy = iota
	PolicyDrop
)

// Verdict is a hook's decision about the event it intercepted. When
// Propagate is set the wrapped action runs, with *Override in place of the
// original argument if Override is non-nil.
type Verdict[T any] struct {
	Propagate bool
	Override  *T
}

// Continue lets the event through unchanged.
func Continue[T any]() *Verdict[T] {
	return &Verdict[T]{Propagate: true}
}

// Halt swallows the event.
func Halt[T any]() *Verdict[T] {
	return &Verdict[T]{}
}

// Replace lets the event through with v instead of the original argument.
func Replace[T any](v T) *Verdict[T] {
	return &Verdict[T]{Propagate: true, Override: &v}
}

// Hooks run before the connection's own handling of each transport event and
// before every outbound write. A connection holds exactly one Hooks value;
// setting a hook replaces the previous one.
type Hooks struct {
	Message func(c *Connection, data []byte) *Verdict[[]byte]
	Open    func(c *Connection) *Verdict[struct{}]
	Error   func(c *Connection, err error) *Verdict[error]
	Close   func(c *Connection, ev transport.CloseEvent) *Verdict[transport.CloseEvent]
	Send    func(c *Connection, data []byte) *Verdict[[]byte]
}

func decide[T any](policy Policy, v *Verdict[T], arg T) (T, bool) {
	if v == nil {
		return arg, policy == PolicyPropagate
	}
	if v.Override != nil {
		arg = *v.Override
	}
	return arg, v.Propagate
}
