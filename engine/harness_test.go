package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"wspreset/codec"
	"wspreset/connection"
	"wspreset/message"
	"wspreset/transport"
)

const waitFor = 2 * time.Second

type endpoint struct {
	*Engine
	identified chan *connection.Connection
}

func newEndpoint(t *testing.T, role Role, data map[string]any, mutate ...func(*Options)) *endpoint {
	t.Helper()
	nop := zerolog.Nop()
	ep := &endpoint{identified: make(chan *connection.Connection, 16)}
	opts := Options{
		Role:       role,
		CustomData: data,
		Logger:     &nop,
		OnIdentified: func(c *connection.Connection) {
			select {
			case ep.identified <- c:
			default:
			}
		},
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	ep.Engine = New(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = ep.Close(ctx)
	})
	return ep
}

func connOptions() connection.Options {
	nop := zerolog.Nop()
	return connection.Options{Logger: &nop}
}

// dial connects cli to srv over a pipe under name and waits for the handshake.
func dial(t *testing.T, srv, cli *endpoint, name string) *connection.Connection {
	t.Helper()
	opts := connOptions()
	opts.Dialer = &transport.PipeDialer{Accept: func(_ string, tr transport.Transport) error {
		connection.FromTransport(uuid.NewString(), tr, srv.Engine, connOptions())
		return nil
	}}
	opts.Address = "pipe"
	opts.MaxRetries = 3
	opts.Backoff = connection.Backoff{Initial: 10 * time.Millisecond, Multiplier: 1}

	c := connection.New(name, cli.Engine, opts)
	require.True(t, cli.AddConnection(c))
	require.NoError(t, c.Activate(context.Background(), false))
	awaitIdentified(t, cli, c)
	return c
}

func awaitIdentified(t *testing.T, ep *endpoint, want *connection.Connection) {
	t.Helper()
	for {
		select {
		case got := <-ep.identified:
			if got == want {
				return
			}
		case <-time.After(waitFor):
			t.Fatalf("connection %s never identified", want.ID())
		}
	}
}

// serverSide finds the server's connection for a client connection.
func serverSide(t *testing.T, srv, cli *endpoint, c *connection.Connection) *connection.Connection {
	t.Helper()
	sc, ok := srv.Registry().Get(cli.Identity(c))
	require.True(t, ok, "server has no connection %q", cli.Identity(c))
	return sc
}

// rawPeer speaks the wire protocol by hand to a server engine.
type rawPeer struct {
	t     *testing.T
	end   *transport.PipeEnd
	conn  *connection.Connection
	codec codec.Codec
	inbox chan *message.Envelope
}

func newRawPeer(t *testing.T, srv *endpoint) *rawPeer {
	t.Helper()
	near, far := transport.Pipe()
	p := &rawPeer{t: t, end: near, codec: &codec.JSONCodec{}, inbox: make(chan *message.Envelope, 16)}
	near.Listen(transport.Events{OnMessage: func(data []byte) {
		var env message.Envelope
		if err := p.codec.Decode(data, &env); err == nil {
			p.inbox <- &env
		}
	}})
	p.conn = connection.FromTransport(uuid.NewString(), far, srv.Engine, connOptions())
	return p
}

func (p *rawPeer) next() *message.Envelope {
	p.t.Helper()
	select {
	case env := <-p.inbox:
		return env
	case <-time.After(waitFor):
		p.t.Fatal("no envelope from server")
		return nil
	}
}

func (p *rawPeer) send(env *message.Envelope) {
	p.t.Helper()
	data, err := p.codec.Encode(env)
	require.NoError(p.t, err)
	require.NoError(p.t, p.end.Send(data))
}

// handshake answers __identify, claiming id when set, and returns the
// identity the server confirmed.
func (p *rawPeer) handshake(id string, data map[string]any) string {
	p.t.Helper()
	req := p.next()
	require.Equal(p.t, message.CommandIdentify, req.ClientCommand)
	require.NotEmpty(p.t, req.ServerMessageID)
	offered, _ := req.Content.(map[string]any)["id"].(string)
	require.NotEmpty(p.t, offered)
	if id == "" {
		id = offered
	}

	reply := message.New(map[string]any{"id": id, "clientData": data})
	reply.ServerCommand = message.CommandIdentify
	reply.ServerMessageID = req.ServerMessageID
	p.send(reply)

	done := p.next()
	require.Equal(p.t, message.CommandIdentified, done.ClientCommand)
	require.Empty(p.t, done.ClientMessageID)
	got, _ := done.Content.(map[string]any)["id"].(string)
	require.Equal(p.t, id, got)
	return got
}
