package httpapi

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig - лимит запросов с одного IP в фиксированном окне
type RateLimitConfig struct {
	Enabled bool
	Limit   int
	Window  time.Duration
}

// NewRateLimiter ограничивает частоту запросов счётчиком в Redis.
// Без Redis или при выключенном лимите пропускает всё; при ошибке Redis тоже пропускает.
func NewRateLimiter(cfg RateLimitConfig, rdb *redis.Client, logger *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil || cfg.Limit <= 0 || cfg.Window <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			now := time.Now()
			bucket := now.UnixNano() / int64(cfg.Window)
			key := fmt.Sprintf("agenda:ratelimit:%s:%d", rateKey(c), bucket)

			count, err := hit(c.Request().Context(), rdb, key, cfg.Window)
			if err != nil {
				logger.Warn("Rate limiter unavailable", zap.Error(err))
				return next(c)
			}

			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(max(int64(cfg.Limit)-count, 0), 10))
			if count > int64(cfg.Limit) {
				reset := time.Unix(0, (bucket+1)*int64(cfg.Window))
				retry := int(math.Ceil(reset.Sub(now).Seconds()))
				c.Response().Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
				return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "rate limit exceeded"})
			}
			return next(c)
		}
	}
}

func hit(ctx context.Context, rdb *redis.Client, key string, window time.Duration) (int64, error) {
	pipe := rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit incr: %w", err)
	}
	return incr.Val(), nil
}

// rateKey - адрес клиента. X-User-ID не подписан, поэтому в ключ не входит.
func rateKey(c echo.Context) string {
	return "ip:" + c.RealIP()
}
