package routes

import (
	"context"
	"fmt"
	"html/template"
	"net/http"

	"socialweb/config"
	"socialweb/services"
	"socialweb/web"

	"go.uber.org/zap"
)

// Provider is the composition root. It builds the one data client of the
// process and every component that depends on it; nothing is looked up
// globally.
type Provider struct {
	Config    *config.ConfigSchema
	Log       *zap.Logger
	Client    *services.DataClient
	Posts     *services.PostService
	WS        *services.WSConnManager
	Broker    *services.FeedBroker
	Templates *template.Template

	store services.CacheStore
}

func NewProvider(ctx context.Context, conf *config.ConfigSchema, log *zap.Logger) (*Provider, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Provider{Config: conf, Log: log, WS: services.NewWSConnManager()}

	store, err := newCacheStore(ctx, conf, log)
	if err != nil {
		return nil, err
	}
	p.store = store

	httpClient := &http.Client{Timeout: conf.Backend.Timeout}
	p.Client = services.NewDataClient(conf.QueryEndpoint(), httpClient, services.NewNormalizedCache(store), log)
	p.Client.RequestTimeout = conf.Backend.Timeout
	p.Posts = services.NewPostService(p.Client, log)

	if conf.Feed.RabbitURL != "" {
		broker, err := services.DialFeedBroker(conf.Feed.RabbitURL, conf.Feed.Exchange, log)
		if err != nil {
			// live updates degrade to local delivery
			log.Warn("feed broker unavailable", zap.Error(err))
		} else {
			p.Broker = broker
		}
	}

	p.Templates, err = web.Templates()
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	log.Info("data client ready",
		zap.String("endpoint", p.Client.Endpoint()),
		zap.String("cache", conf.Cache.Driver))
	return p, nil
}

func newCacheStore(ctx context.Context, conf *config.ConfigSchema, log *zap.Logger) (services.CacheStore, error) {
	switch conf.Cache.Driver {
	case "memory":
		return services.NewMemoryStore(conf.Cache.TTL), nil
	case "redis":
		client, err := services.NewRedisClient(ctx, conf.Redis)
		if err != nil {
			return nil, err
		}
		log.Info("redis cache connected", zap.String("addr", conf.Redis.Addr()))
		return services.NewRedisStore(client, "socialweb:", conf.Cache.TTL), nil
	}
	return nil, fmt.Errorf("unknown cache driver %q", conf.Cache.Driver)
}

// FeedRelay wires the live feed to this provider's components.
func (p *Provider) FeedRelay() *services.FeedRelay {
	var bus services.FeedBus
	if p.Broker != nil {
		bus = p.Broker
	}
	return services.NewFeedRelay(p.Posts, p.WS, bus, p.Log)
}

func (p *Provider) Subscriber() *services.Subscriber {
	return services.NewSubscriber(p.Config.SubscriptionEndpoint(), p.Log)
}

func (p *Provider) Close() {
	if p.Broker != nil {
		if err := p.Broker.Close(); err != nil {
			p.Log.Warn("failed to close feed broker", zap.Error(err))
		}
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			p.Log.Warn("failed to close cache store", zap.Error(err))
		}
	}
}
