package ratelimit

import (
	"context"
	"sync"
	"time"
)

type Config struct {
	Window      time.Duration
	MaxRequests int64
}

type Decision struct {
	Allowed           bool
	Remaining         int64
	ResetAt           time.Time
	RetryAfterSeconds int64
}

type Limiter interface {
	Check(ctx context.Context, identity string, cfg Config) (Decision, error)
}

const defaultHighWater = 10_000

type record struct {
	count   int64
	resetAt time.Time
}

// Memory — fixed-window лимитер на процесс-локальной map.
// Лимит мягкий: при нескольких инстансах суммарный потолок = max × инстансы.
type Memory struct {
	mu        sync.Mutex
	records   map[string]*record
	highWater int
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		records:   make(map[string]*record),
		highWater: defaultHighWater,
		now:       time.Now,
	}
}

func (m *Memory) Check(_ context.Context, identity string, cfg Config) (Decision, error) {
	now := m.now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[identity]
	if !ok || !now.Before(r.resetAt) {
		if len(m.records) > m.highWater {
			m.sweep(now)
		}
		r = &record{count: 1, resetAt: now.Add(cfg.Window)}
		m.records[identity] = r
		return Decision{Allowed: true, Remaining: cfg.MaxRequests - 1, ResetAt: r.resetAt}, nil
	}

	if r.count < cfg.MaxRequests {
		r.count++
		return Decision{Allowed: true, Remaining: cfg.MaxRequests - r.count, ResetAt: r.resetAt}, nil
	}

	retry := int64((r.resetAt.Sub(now) + time.Second - 1) / time.Second)
	return Decision{Allowed: false, ResetAt: r.resetAt, RetryAfterSeconds: retry}, nil
}

// sweep выбрасывает записи с истёкшим окном; вызывается под mu.
func (m *Memory) sweep(now time.Time) {
	for k, r := range m.records {
		if !now.Before(r.resetAt) {
			delete(m.records, k)
		}
	}
}
