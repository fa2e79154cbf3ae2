package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/models"
)

type RateLimiter struct {
	clients    map[string]*ClientBucket
	mutex      sync.RWMutex
	cleanup    *time.Ticker
	stopCh     chan struct{}
	once       sync.Once
	logger     *zap.Logger
	defaultRPS int
	burst      int
	now        func() time.Time
}

type ClientBucket struct {
	tokens     float64
	lastUpdate time.Time
	mutex      sync.Mutex
}

func NewRateLimiter(defaultRPS, burst int, logger *zap.Logger) *RateLimiter {
	rl := &RateLimiter{
		clients:    make(map[string]*ClientBucket),
		stopCh:     make(chan struct{}),
		defaultRPS: defaultRPS,
		burst:      burst,
		logger:     logger,
		now:        time.Now,
	}

	rl.cleanup = time.NewTicker(5 * time.Minute)
	go rl.cleanupExpiredClients()

	return rl
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return rl.RateLimitWithConfig(rl.defaultRPS, rl.burst)
}

// RateLimitWithConfig keeps a separate bucket per route group, so a stricter
// limit on uploads does not drain the default one.
func (rl *RateLimiter) RateLimitWithConfig(rps int, burst int) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		key := clientIP + "|" + c.FullPath()
		if rps == rl.defaultRPS && burst == rl.burst {
			key = clientIP
		}

		if !rl.allowRequestWithConfig(key, rps, burst) {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("client_ip", clientIP),
				zap.String("path", c.Request.URL.Path),
				zap.Int("rps", rps))

			c.Header("Retry-After", "1")
			abortWithError(c, http.StatusTooManyRequests, models.CodeRateLimited, "Rate limit exceeded")
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) allowRequestWithConfig(key string, rps, burst int) bool {
	now := rl.now()

	rl.mutex.Lock()
	bucket, exists := rl.clients[key]
	if !exists {
		bucket = &ClientBucket{
			tokens:     float64(burst),
			lastUpdate: now,
		}
		rl.clients[key] = bucket
	}
	rl.mutex.Unlock()

	return bucket.allowRequest(now, rps, burst)
}

func (cb *ClientBucket) allowRequest(now time.Time, rps, burst int) bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	elapsed := now.Sub(cb.lastUpdate)
	cb.tokens += elapsed.Seconds() * float64(rps)
	if cb.tokens > float64(burst) {
		cb.tokens = float64(burst)
	}
	cb.lastUpdate = now

	if cb.tokens >= 1 {
		cb.tokens--
		return true
	}

	return false
}

func (rl *RateLimiter) cleanupExpiredClients() {
	for {
		select {
		case <-rl.cleanup.C:
			rl.mutex.Lock()
			now := rl.now()
			for key, bucket := range rl.clients {
				bucket.mutex.Lock()
				if now.Sub(bucket.lastUpdate) > 10*time.Minute {
					delete(rl.clients, key)
				}
				bucket.mutex.Unlock()
			}
			rl.mutex.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) GetGlobalStats() map[string]interface{} {
	rl.mutex.RLock()
	defer rl.mutex.RUnlock()

	return map[string]interface{}{
		"active_clients": len(rl.clients),
		"default_rps":    rl.defaultRPS,
		"burst_capacity": rl.burst,
	}
}

func (rl *RateLimiter) Shutdown() {
	rl.once.Do(func() {
		rl.cleanup.Stop()
		close(rl.stopCh)
	})
}
