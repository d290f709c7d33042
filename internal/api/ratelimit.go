package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SenderLimiter 按发送方限制消息频率。
type SenderLimiter struct {
	mu        sync.Mutex
	perSecond rate.Limit
	burst     int
	idle      time.Duration
	entries   map[string]*limiterEntry
	now       func() time.Time
}

// NewSenderLimiter 创建限流器，perMinute 或 burst 非正时使用 1。
func NewSenderLimiter(perMinute, burst int) *SenderLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &SenderLimiter{
		perSecond: rate.Limit(float64(perMinute) / 60.0),
		burst:     burst,
		idle:      10 * time.Minute,
		entries:   make(map[string]*limiterEntry),
		now:       time.Now,
	}
}

// Allow 报告该发送方此刻是否还有配额。
func (l *SenderLimiter) Allow(sender string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	entry, ok := l.entries[sender]
	if !ok {
		l.sweep(now)
		entry = &limiterEntry{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.entries[sender] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep 清理长时间未活动的发送方，调用方需持有锁。
func (l *SenderLimiter) sweep(now time.Time) {
	for sender, entry := range l.entries {
		if now.Sub(entry.lastSeen) > l.idle {
			delete(l.entries, sender)
		}
	}
}
