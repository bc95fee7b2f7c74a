package mw

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type bucket struct {
	*rate.Limiter
	lastSeen time.Time
}

// Limiter 按 key（客户端 IP + 路由）维护独立令牌桶。
type Limiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewLimiter 创建限速器；空闲超过 idle 的桶会在 Run 的下一次清理中被移除。
func NewLimiter(limit rate.Limit, burst int, idle time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		burst:   burst,
		idle:    idle,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
}

func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.AllowN(now, 1)
}

// Tracked 返回当前持有令牌桶的 key 数量。
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) evictIdle(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

// Run 每隔 interval 清理空闲的桶，直到 Stop 被调用。
func (l *Limiter) Run(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-l.done:
			return
		case now := <-t.C:
			l.evictIdle(now)
		}
	}
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// retryAfter 是补满一个令牌所需的秒数，至少为 1。
func (l *Limiter) retryAfter() string {
	if l.limit <= 0 || l.limit == rate.Inf {
		return "1"
	}
	secs := math.Ceil(1 / float64(l.limit))
	return strconv.Itoa(int(math.Max(secs, 1)))
}

// RateLimit 拒绝超出配额的请求，返回 429 和 Retry-After。
func RateLimit(l *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if l.Allow(c.ClientIP() + " " + route) {
			c.Next()
			return
		}
		c.Header("Retry-After", l.retryAfter())
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
	}
}
