package roster

import (
	"context"
	"fmt"
	"sync"

	"github.com/Ranidpz/qrinfo-sub004/internal/logger"
	"github.com/go-redis/redis/v8"
)

// ChangeFeed is the store change-notification mechanism the synchronizer
// listens on. The contract is "something changed for this event scope" —
// consumers reload in full, so the feed can be backed by pub/sub, polling or
// push notifications interchangeably.
type ChangeFeed interface {
	NotifyChange(ctx context.Context, eventID string)
	Subscribe(ctx context.Context, eventID string) <-chan struct{}
}

func rosterChannel(eventID string) string {
	return "roster_changed:" + eventID
}

// RedisFeed broadcasts change notifications over Redis pub/sub so every
// service instance sees writes made by its peers.
type RedisFeed struct {
	Client *redis.Client
	Logger *logger.Logger
}

func NewRedisFeed(client *redis.Client, log *logger.Logger) *RedisFeed {
	return &RedisFeed{Client: client, Logger: log}
}

func (f *RedisFeed) NotifyChange(ctx context.Context, eventID string) {
	if err := f.Client.Publish(ctx, rosterChannel(eventID), "1").Err(); err != nil {
		f.Logger.Error("REDIS", fmt.Sprintf("roster notify for %s failed: %v", eventID, err))
	}
}

func (f *RedisFeed) Subscribe(ctx context.Context, eventID string) <-chan struct{} {
	pubsub := f.Client.Subscribe(ctx, rosterChannel(eventID))
	out := make(chan struct{}, 1)

	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				// Coalesce bursts: one pending tick is enough, the
				// consumer reloads in full anyway
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}

// LocalFeed is an in-process feed for single-instance deployments and tests.
type LocalFeed struct {
	mu   sync.Mutex
	subs map[string][]chan struct{}
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: make(map[string][]chan struct{})}
}

func (f *LocalFeed) NotifyChange(ctx context.Context, eventID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[eventID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (f *LocalFeed) Subscribe(ctx context.Context, eventID string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.subs[eventID] = append(f.subs[eventID], ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		chans := f.subs[eventID]
		for i, c := range chans {
			if c == ch {
				f.subs[eventID] = append(chans[:i], chans[i+1:]...)
				close(ch)
				break
			}
		}
	}()
	return ch
}
