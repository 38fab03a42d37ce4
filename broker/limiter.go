package broker

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 控制对 bridge 的 REST 请求速率。Wait 在取到令牌前
// 阻塞，ctx 先到期时提前返回错误，调用方（验证读）据此退回本地
// 状态，远端查询的时长上限不被限流等待拉长。
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// TokenBucketLimiter 令牌桶限流器。
type TokenBucketLimiter struct {
	mu     sync.Mutex
	rate   float64 // 每秒补充的令牌数
	burst  float64
	tokens float64
	last   time.Time
}

func NewTokenBucketLimiter(rate float64, burst int) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketLimiter{
		rate:   rate,
		burst:  float64(burst),
		tokens: float64(burst),
		last:   time.Now(),
	}
}

// Wait 取走一枚令牌。桶空时按补充速率等待，等待期间 ctx 到期
// 即放弃并返回 ctx.Err()，不消耗令牌。
func (l *TokenBucketLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	l.refillLocked(time.Now())
	if l.tokens >= 1 {
		l.tokens--
		l.mu.Unlock()
		return nil
	}
	wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	l.mu.Lock()
	l.refillLocked(time.Now())
	l.tokens--
	if l.tokens < 0 {
		l.tokens = 0
	}
	l.mu.Unlock()
	return nil
}

func (l *TokenBucketLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.last).Seconds()
	l.last = now
	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
}
