// Package gate 限制进程内同时在途的模型调用数量。
//
// 所有需要限流的客户端共享同一个 Gate。Gate 只负责排队，不保证公平，
// 唯一可能返回的错误是调用方的 context 在等待期间结束。
package gate

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Gate 并发闸门
type Gate struct {
	limit   int64
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	inFlight atomic.Int64
	peak     atomic.Int64
}

// Option Gate 选项
type Option func(*Gate)

// WithRate 在并发上限之外再按每分钟请求数限速，rpm 为 0 时不生效
func WithRate(rpm, burst int) Option {
	return func(g *Gate) {
		if rpm <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
	}
}

// New 创建并发上限为 limit 的闸门，limit 小于 1 时按 1 处理
func New(limit int, opts ...Option) *Gate {
	if limit < 1 {
		limit = 1
	}
	g := &Gate{
		limit: int64(limit),
		sem:   semaphore.NewWeighted(int64(limit)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Permit 一次调用的许可，Release 可重复调用
type Permit struct {
	g    *Gate
	once sync.Once
}

// Acquire 阻塞直到拿到许可。nil Gate 不做任何限制
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if g == nil {
		return &Permit{}, nil
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			g.sem.Release(1)
			return nil, err
		}
	}

	n := g.inFlight.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return &Permit{g: g}, nil
}

// Release 归还许可
func (p *Permit) Release() {
	if p == nil || p.g == nil {
		return
	}
	p.once.Do(func() {
		p.g.inFlight.Add(-1)
		p.g.sem.Release(1)
	})
}

// Do 持有许可执行 fn，fn 返回或 panic 时都会归还许可
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release()
	return fn(ctx)
}

// Limit 并发上限
func (g *Gate) Limit() int {
	if g == nil {
		return 0
	}
	return int(g.limit)
}

// InFlight 当前持有许可的调用数
func (g *Gate) InFlight() int {
	if g == nil {
		return 0
	}
	return int(g.inFlight.Load())
}

// Peak 历史最大同时持有数
func (g *Gate) Peak() int {
	if g == nil {
		return 0
	}
	return int(g.peak.Load())
}
