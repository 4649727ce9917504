package services

import (
	"context"
	"encoding/json"
	"time"

	"socialweb/models"

	"go.uber.org/zap"
)

// FeedBus is the transport between replicas; FeedBroker is the RabbitMQ one.
type FeedBus interface {
	PublishNewPost(ctx context.Context, post models.Post) error
	Consume(ctx context.Context, handler func(FeedEvent)) error
}

// FeedRelay moves new posts from the backend subscription to the cache and
// to connected browsers. With a bus configured, events go through it so every
// replica sees them; without one, or when publishing fails, they are
// delivered locally.
type FeedRelay struct {
	posts *PostService
	ws    *WSConnManager
	bus   FeedBus
	log   *zap.Logger
}

func NewFeedRelay(posts *PostService, ws *WSConnManager, bus FeedBus, log *zap.Logger) *FeedRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &FeedRelay{posts: posts, ws: ws, bus: bus, log: log}
}

// Run consumes the bus (when present) and, if sub is non-nil, keeps the
// backend subscription open. It blocks until ctx ends.
func (r *FeedRelay) Run(ctx context.Context, sub *Subscriber) error {
	if r.bus != nil {
		if err := r.bus.Consume(ctx, func(event FeedEvent) {
			if event.Event != FeedEventPostCreated {
				return
			}
			RecordFeedEvent("bus")
			r.Deliver(ctx, event.Post)
		}); err != nil {
			return err
		}
	}
	if sub == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return sub.Run(ctx, func(post models.Post) {
		r.HandleNewPost(ctx, post)
	})
}

func (r *FeedRelay) HandleNewPost(ctx context.Context, post models.Post) {
	if r.bus != nil {
		publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := r.bus.PublishNewPost(publishCtx, post)
		cancel()
		if err == nil {
			return
		}
		r.log.Warn("feed publish failed, delivering locally", zap.String("post_id", post.ID), zap.Error(err))
	}
	RecordFeedEvent("direct")
	r.Deliver(ctx, post)
}

// Deliver updates the local cache and pushes the post to this replica's
// browsers.
func (r *FeedRelay) Deliver(ctx context.Context, post models.Post) {
	if err := r.posts.ApplyNewPost(ctx, post); err != nil {
		r.log.Warn("failed to cache new post", zap.String("post_id", post.ID), zap.Error(err))
	}

	data, err := json.Marshal(FeedEvent{
		Event:       FeedEventPostCreated,
		Post:        post,
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		r.log.Error("failed to marshal push message", zap.Error(err))
		return
	}
	sent := r.ws.Broadcast(data)
	r.log.Debug("new post pushed", zap.String("post_id", post.ID), zap.Int("clients", sent))
}
