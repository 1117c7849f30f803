package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"wspreset/codec"
	"wspreset/preset"
	"wspreset/server"
	"wspreset/transport"
)

// setupServerAndClient connects one client to a server over framed TCP and
// registers an "add" preset on both sides.
func setupServerAndClient(b *testing.B) *Client {
	b.Helper()
	nop := zerolog.Nop()
	srv := server.New(server.Options{HeartbeatInterval: time.Hour, Logger: &nop})
	_, err := srv.Register("add", preset.WithMethod(func(ctx context.Context, h preset.Surface, content any) (any, error) {
		m, _ := content.(map[string]any)
		a, _ := m["a"].(float64)
		c, _ := m["b"].(float64)
		return a + c, nil
	}))
	if err != nil {
		b.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatal(err)
	}
	go srv.ServeTCP(ln)
	b.Cleanup(func() { srv.Shutdown(3 * time.Second) })

	cli := New(Options{
		URL:    ln.Addr().String(),
		Dialer: &transport.StreamDialer{Timeout: time.Second, CodecType: byte(codec.CodecTypeJSON)},
		Logger: &nop,
	})
	b.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		cli.Close(ctx)
	})
	if _, err := cli.Register("add"); err != nil {
		b.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := cli.Connect(ctx)
	if err != nil {
		b.Fatal(err)
	}
	if err := cli.Ready(ctx, conn); err != nil {
		b.Fatal(err)
	}
	return cli
}

// 单 goroutine 串行调用
func BenchmarkSerialLaunch(b *testing.B) {
	cli := setupServerAndClient(b)
	args := map[string]any{"a": 1, "b": 2}
	ctx := context.Background()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := cli.Launch(ctx, "add", args); err != nil {
			b.Fatal(err)
		}
	}
}

// 多 goroutine 并发调用（同一连接上多路复用）
func BenchmarkConcurrentLaunch(b *testing.B) {
	cli := setupServerAndClient(b)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		args := map[string]any{"a": 1, "b": 2}
		for pb.Next() {
			if _, err := cli.Launch(ctx, "add", args); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
