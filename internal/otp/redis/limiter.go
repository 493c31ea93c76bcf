package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// Limiter gates OTP sends: a resend cooldown per registration and a send
// quota per phone within a sliding window. Redis being down must never take
// registration down with it, so limiter errors fail open.
type Limiter struct {
	Client   *redis.Client
	MaxSends int
	Window   time.Duration
	Cooldown time.Duration
	Logger   *log.Logger
}

func NewLimiter(client *redis.Client, maxSends int, window, cooldown time.Duration) *Limiter {
	return &Limiter{
		Client:   client,
		MaxSends: maxSends,
		Window:   window,
		Cooldown: cooldown,
		Logger:   log.Default(),
	}
}

// AllowSend reports whether another code may go out for this registration
// right now. Only an allowed send arms the cooldown or keeps a window slot;
// a rejected attempt leaves both untouched.
func (l *Limiter) AllowSend(ctx context.Context, phone, registrationID string) (bool, error) {
	windowKey := "otp_sends:" + phone
	n, err := l.Client.Incr(ctx, windowKey).Result()
	if err != nil {
		l.Logger.Printf("REDIS: send counter failed, allowing send: %v", err)
		return true, nil
	}
	if n == 1 {
		if err := l.Client.Expire(ctx, windowKey, l.Window).Err(); err != nil {
			l.Logger.Println(fmt.Sprintf("REDIS: failed to expire %s: %v", windowKey, err))
		}
	}
	if n > int64(l.MaxSends) {
		l.refundSlot(ctx, windowKey)
		return false, nil
	}

	cooldownKey := "otp_cooldown:" + registrationID
	ok, err := l.Client.SetNX(ctx, cooldownKey, 1, l.Cooldown).Result()
	if err != nil {
		l.Logger.Printf("REDIS: cooldown check failed, allowing send: %v", err)
		return true, nil
	}
	if !ok {
		l.refundSlot(ctx, windowKey)
		return false, nil
	}
	return true, nil
}

func (l *Limiter) refundSlot(ctx context.Context, windowKey string) {
	if err := l.Client.Decr(ctx, windowKey).Err(); err != nil {
		l.Logger.Printf("REDIS: failed to refund %s: %v", windowKey, err)
	}
}
