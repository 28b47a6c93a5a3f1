package app

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/ykvlv/fin-assistant-bot/internal/cache"
	"github.com/ykvlv/fin-assistant-bot/internal/config"
	"github.com/ykvlv/fin-assistant-bot/internal/ideas"
	"github.com/ykvlv/fin-assistant-bot/internal/market"
	"github.com/ykvlv/fin-assistant-bot/internal/metrics"
	"github.com/ykvlv/fin-assistant-bot/internal/providers"
)

// Pipeline is the ideas stack: providers behind the adapter, the fact cache and the digest service.
type Pipeline struct {
	Service  *ideas.Service
	Adapter  *market.Adapter
	Universe *ideas.Universe
	redis    *redis.Client
}

// Close releases the shared cache connection, if any.
func (p *Pipeline) Close() error {
	if p.redis != nil {
		return p.redis.Close()
	}
	return nil
}

// NewPipeline wires the ideas stack from configuration. It is shared by the bot and the CLI.
func NewPipeline(ctx context.Context, cfg config.Config, log *zap.Logger, m *metrics.Metrics) (*Pipeline, error) {
	universe, err := ideas.LoadUniverse(cfg.Ideas.UniversePath)
	if err != nil {
		return nil, err
	}

	adapter := newAdapter(cfg.Providers, universe, &http.Client{}, log, m)

	p := &Pipeline{Adapter: adapter, Universe: universe}
	var store cache.Store
	if cfg.Cache.RedisAddr != "" {
		p.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := p.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn("redis unavailable, using in-process fact cache", zap.Error(err), zap.String("addr", cfg.Cache.RedisAddr))
			_ = p.redis.Close()
			p.redis = nil
		} else {
			store = cache.NewRedisStore(p.redis, cfg.Cache.RedisPrefix, cfg.Cache.Retention)
			log.Info("redis fact cache ready", zap.String("addr", cfg.Cache.RedisAddr))
		}
	}

	facts := cache.New(store, adapter, log, m)
	agg := ideas.NewAggregator(facts, cfg.Cache.TTL, cfg.Ideas.Workers, ideas.DefaultWeights(), log, m)
	p.Service = ideas.NewService(agg, universe, ideas.Params{
		TopN:           cfg.Ideas.TopN,
		MinSources:     cfg.Ideas.MinSources,
		MaxAgeDays:     cfg.Ideas.MaxAgeDays,
		ScoreThreshold: cfg.Ideas.ScoreThreshold,
	}, cfg.Ideas.Deadline)
	return p, nil
}

// newAdapter registers the providers in fallback order per fact kind.
// The ISS trading and issuer feeds count as separate sources; FRED and EDGAR join only when configured.
func newAdapter(cfg config.Providers, universe *ideas.Universe, client *http.Client, log *zap.Logger, m *metrics.Metrics) *market.Adapter {
	guard := func(rps float64) market.Guard {
		burst := cfg.Burst
		if b := int(math.Ceil(rps)); b > burst {
			burst = b
		}
		return market.Guard{RPS: rps, Burst: burst, TripAfter: cfg.TripAfter, OpenFor: cfg.OpenFor}
	}

	a := market.NewAdapter(cfg.HTTPTimeout, log, m)

	boards := universe.Boards()
	a.Register(providers.NewMOEX(client, cfg.MOEXURL, boards), guard(cfg.MOEXRPS),
		market.KindQuote, market.KindMomentum, market.KindMacro)
	a.Register(providers.NewCoinGecko(client, cfg.CoinGeckoURL, providers.DefaultCoins()), guard(cfg.CoinGeckoRPS),
		market.KindQuote, market.KindMomentum)
	issuer := providers.NewMOEXIssuer(client, cfg.MOEXURL, boards)
	a.Register(issuer, guard(cfg.MOEXRPS), market.KindFundamentals)

	if cfg.FREDAPIKey != "" {
		a.Register(providers.NewFRED(client, cfg.FREDURL, cfg.FREDAPIKey, cfg.FREDSeries), guard(cfg.FREDRPS),
			market.KindMacro, market.KindReference)
	} else {
		log.Info("FRED_API_KEY not set, reference series are skipped")
	}
	if len(cfg.SECTickers) > 0 {
		edgar := providers.NewEDGAR(client, "", "", cfg.SECUserAgent, cfg.SECTickers)
		a.Register(edgar, guard(cfg.SECRPS), market.KindNews)
	}
	a.Register(issuer, guard(cfg.MOEXRPS), market.KindNews)

	for _, k := range []market.FactKind{market.KindQuote, market.KindFundamentals, market.KindMomentum, market.KindNews, market.KindMacro, market.KindReference} {
		log.Debug("provider chain", zap.String("kind", string(k)), zap.Strings("providers", a.Chain(k)))
	}
	return a
}
