package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const loginLimiterIdle = 10 * time.Minute

// LoginRateLimit limits login attempts per address or IP. It counts in Redis
// when a client is given and falls back to in-process token buckets otherwise.
func LoginRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	local := newLocalLimiter(maxPerMin)
	return func(c *fiber.Ctx) error {
		var req struct {
			Address string `json:"address"`
		}
		_ = c.BodyParser(&req)
		subject := strings.TrimSpace(req.Address)
		if subject == "" {
			subject = c.IP()
		}

		if cache == nil {
			if !local.allow(subject) {
				return tooManyAttempts(c)
			}
			return c.Next()
		}

		key := "rl:login:" + subject
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return tooManyAttempts(c)
		}
		return c.Next()
	}
}

func tooManyAttempts(c *fiber.Ctx) error {
	c.Set(fiber.HeaderRetryAfter, "60")
	return fiber.NewError(http.StatusTooManyRequests, "too many login attempts, try again later")
}

type subjectLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type localLimiter struct {
	mu        sync.Mutex
	perMin    int
	limiters  map[string]*subjectLimiter
	lastSweep time.Time
}

func newLocalLimiter(perMin int) *localLimiter {
	return &localLimiter{perMin: perMin, limiters: make(map[string]*subjectLimiter), lastSweep: time.Now()}
}

func (l *localLimiter) allow(subject string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > loginLimiterIdle {
		for k, s := range l.limiters {
			if now.Sub(s.lastSeen) > loginLimiterIdle {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}

	s, ok := l.limiters[subject]
	if !ok {
		s = &subjectLimiter{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)}
		l.limiters[subject] = s
	}
	s.lastSeen = now
	return s.limiter.AllowN(now, 1)
}
