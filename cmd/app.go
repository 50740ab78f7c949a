package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/quote-sourcing/internal/adapter"
	"github.com/sells-group/quote-sourcing/internal/cache"
	"github.com/sells-group/quote-sourcing/internal/calls"
	"github.com/sells-group/quote-sourcing/internal/config"
	"github.com/sells-group/quote-sourcing/internal/selection"
	"github.com/sells-group/quote-sourcing/internal/settings"
	"github.com/sells-group/quote-sourcing/internal/sourcing"
	"github.com/sells-group/quote-sourcing/internal/store"
	"github.com/sells-group/quote-sourcing/internal/vendor"
	"github.com/sells-group/quote-sourcing/pkg/browser"
	"github.com/sells-group/quote-sourcing/pkg/partnerapi"
	"github.com/sells-group/quote-sourcing/pkg/voice"
)

// appEnv holds the wired components used by lookup, calls and serve.
type appEnv struct {
	Cache       cache.Cache
	Registry    *adapter.Registry
	Engine      *selection.Engine
	Vendors     *vendor.Directory
	Calls       *calls.Orchestrator // nil without voice.base_url
	Coordinator *sourcing.Coordinator
	Store       store.CallStore
	Settings    settings.Provider

	closers []func()
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initApp validates config for mode and wires every component. Callers
// should defer env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &appEnv{Settings: settings.FromConfig(cfg.Shop)}

	vendors, err := vendor.Open(cfg.VendorsPath, cfg.Vendors)
	if err != nil {
		return nil, err
	}
	env.Vendors = vendors

	engine, err := selection.New(cfg.Selection, vendors)
	if err != nil {
		return nil, eris.Wrap(err, "selection config")
	}
	env.Engine = engine

	qc, closeCache, err := initCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	env.Cache = qc
	env.closers = append(env.closers, closeCache)

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Store = st
	env.closers = append(env.closers, func() { _ = st.Close() })

	reg, err := initRegistry(cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Registry = reg

	var opts []sourcing.Option
	if cfg.Voice.BaseURL != "" {
		vc := voice.NewClient(cfg.Voice.BaseURL, cfg.Voice.Key, voice.WithRateLimit(cfg.Voice.RateLimit, 1))
		env.Calls = calls.New(vc, vendors, cfg.Calls, calls.WithArchive(st))
		opts = append(opts, sourcing.WithEscalation(env.Calls, vendors))
	}
	env.Coordinator = sourcing.New(reg, qc, engine, cfg.Sourcing, opts...)

	zap.L().Info("app initialized",
		zap.Strings("adapters", reg.List()),
		zap.Int("vendors", vendors.Len()),
		zap.String("cache", cfg.Cache.Driver),
		zap.Bool("calls", env.Calls != nil),
	)
	return env, nil
}

// initCache builds the configured quote cache. The returned func closes any
// backing connection.
func initCache(ctx context.Context, cc config.CacheConfig) (cache.Cache, func(), error) {
	ttl := time.Duration(cc.TTLHours) * time.Hour
	switch cc.Driver {
	case "redis":
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cc.Redis.Addr},
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, eris.Wrapf(err, "redis: ping %s", cc.Redis.Addr)
		}
		return cache.NewRedis(client, cc.Redis.Prefix, ttl), func() { _ = client.Close() }, nil
	default:
		return cache.NewMemory(ttl, cc.Shards), func() {}, nil
	}
}

// initRegistry registers the catalog adapter always, the partner adapter when
// an endpoint is configured, and one scraped adapter per configured site.
func initRegistry(c *config.Config) (*adapter.Registry, error) {
	reg := adapter.NewRegistry()

	entries := adapter.DefaultCatalog()
	if c.CatalogPath != "" {
		loaded, err := adapter.LoadCatalog(c.CatalogPath)
		if err != nil {
			return nil, err
		}
		entries = loaded
	}
	reg.Register(adapter.NewStatic(entries))

	if c.Partner.Endpoint != "" {
		reg.Register(adapter.NewRemote(newPartnerClient(c.Partner), adapter.WithVendorID(c.Partner.VendorID)))
	}

	if c.Browser.SitesPath != "" {
		if c.Browser.BaseURL == "" {
			return nil, eris.New("browser.base_url is required when browser.sites_path is set")
		}
		sites, err := adapter.LoadSites(c.Browser.SitesPath)
		if err != nil {
			return nil, err
		}
		driver := browser.NewClient(c.Browser.BaseURL, c.Browser.Key, browser.WithRateLimit(c.Browser.RateLimit, 1))
		step := time.Duration(c.Browser.StepTimeoutSecs) * time.Second
		for _, site := range sites {
			reg.Register(adapter.NewScraped(site, driver, step))
		}
	}

	for _, name := range c.Sourcing.DisabledAdapters {
		reg.SetEnabled(name, false)
	}
	return reg, nil
}

func newPartnerClient(pc config.PartnerConfig) partnerapi.Client {
	creds := partnerapi.Credentials{
		Username:      pc.Username,
		Password:      pc.Password,
		AccountNumber: pc.Account,
	}
	timeout := time.Duration(pc.TimeoutSecs) * time.Second
	return partnerapi.NewClient(pc.Endpoint, creds, partnerapi.WithHTTPClient(&http.Client{Timeout: timeout}))
}
