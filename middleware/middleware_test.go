package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"wspreset/preset"
)

func newCall() *Call {
	return &Call{Preset: preset.System("vehicle"), Origin: "main", Content: "wheels"}
}

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, call *Call) (any, error) {
	return call.Content, nil
}

// 模拟一个慢 handler：睡 200ms
func slowHandler(ctx context.Context, call *Call) (any, error) {
	time.Sleep(200 * time.Millisecond)
	return "ok", nil
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware(zerolog.Nop())(echoHandler)

	resp, err := handler(context.Background(), newCall())
	if err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if resp != "wheels" {
		t.Fatalf("expect 'wheels', got '%v'", resp)
	}
}

func TestTimeoutPass(t *testing.T) {
	// 超时 500ms，handler 很快，应该正常返回
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	if _, err := handler(context.Background(), newCall()); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	// 超时 50ms，handler 需要 200ms，应该超时
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	_, err := handler(context.Background(), newCall())
	if !errors.Is(err, ErrHandlerTimeout) {
		t.Fatalf("expect timeout error, got %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), newCall()); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}

	if _, err := handler(context.Background(), newCall()); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("request 3 should be rate limited, got: %v", err)
	}
}

func TestRetry(t *testing.T) {
	transient := errors.New("transient")
	calls := 0
	flaky := func(ctx context.Context, call *Call) (any, error) {
		calls++
		if calls < 3 {
			return nil, transient
		}
		return "ok", nil
	}
	handler := RetryMiddleware(3, time.Millisecond, func(err error) bool { return errors.Is(err, transient) })(flaky)

	resp, err := handler(context.Background(), newCall())
	if err != nil || resp != "ok" {
		t.Fatalf("expect ok after retries, got %v, %v", resp, err)
	}
	if calls != 3 {
		t.Fatalf("expect 3 calls, got %d", calls)
	}

	// 不可重试的错误直接返回
	calls = 0
	fatal := errors.New("fatal")
	handler = RetryMiddleware(3, time.Millisecond, func(err error) bool { return errors.Is(err, transient) })(
		func(ctx context.Context, call *Call) (any, error) {
			calls++
			return nil, fatal
		})
	if _, err := handler(context.Background(), newCall()); !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("expect one call with fatal error, got %d calls, %v", calls, err)
	}
}

func TestRecover(t *testing.T) {
	handler := RecoverMiddleware()(func(ctx context.Context, call *Call) (any, error) {
		panic("boom")
	})

	_, err := handler(context.Background(), newCall())
	if err == nil {
		t.Fatal("expect error from recovered panic")
	}
}

func TestChain(t *testing.T) {
	// 用 Chain 组合 Logging + Timeout，验证请求能正常穿过
	chained := Chain(RecoverMiddleware(), LoggingMiddleware(zerolog.Nop()), TimeOutMiddleware(500*time.Millisecond))
	handler := chained(echoHandler)

	resp, err := handler(context.Background(), newCall())
	if err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if resp != "wheels" {
		t.Fatalf("expect 'wheels', got '%v'", resp)
	}
}

func TestInvoke(t *testing.T) {
	m := func(ctx context.Context, h preset.Surface, content any) (any, error) {
		return content.(string) + "!", nil
	}
	resp, err := Invoke(m)(context.Background(), newCall())
	if err != nil || resp != "wheels!" {
		t.Fatalf("expect 'wheels!', got %v, %v", resp, err)
	}
}
