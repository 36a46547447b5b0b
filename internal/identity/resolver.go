package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/atlascms/atlas/internal/shared"
)

// Store is the persistence collaborator the resolver reads from. The
// control plane never embeds SQL; it calls named operations.
type Store interface {
	// FindActiveSessionByToken assembles the identity snapshot for an
	// active, non-expired session joined to an active user and role.
	// Returns shared.ErrNotFound when no such session exists.
	FindActiveSessionByToken(ctx context.Context, token string) (*Identity, error)
	// TouchLastActive records session activity.
	TouchLastActive(ctx context.Context, token string, at time.Time) error
}

// ResolverConfig carries the resolver's tunables.
type ResolverConfig struct {
	// IdentityTTL bounds how long a resolved identity may be served from
	// cache without consulting the store.
	IdentityTTL time.Duration
	// StoreTimeout bounds a single store lookup. On expiry the request
	// degrades to unauthenticated instead of hanging.
	StoreTimeout time.Duration
	// TouchInterval coalesces last_active writes to at most one per
	// session per interval.
	TouchInterval time.Duration
}

// Resolver maps an opaque session token to an Identity, consulting the
// cache before the store. Concurrent misses for the same token collapse
// into a single store round-trip.
type Resolver struct {
	store  Store
	cache  *Cache
	logger *slog.Logger
	cfg    ResolverConfig
	clock  func() time.Time
	group  singleflight.Group

	touchMu sync.Mutex
	touched map[string]time.Time
}

// NewResolver constructs a Resolver.
func NewResolver(store Store, cache *Cache, logger *slog.Logger, cfg ResolverConfig, clock func() time.Time) *Resolver {
	if clock == nil {
		clock = time.Now
	}
	if cfg.IdentityTTL <= 0 {
		cfg.IdentityTTL = 30 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	if cfg.TouchInterval <= 0 {
		cfg.TouchInterval = time.Minute
	}
	return &Resolver{
		store:   store,
		cache:   cache,
		logger:  logger,
		cfg:     cfg,
		clock:   clock,
		touched: make(map[string]time.Time),
	}
}

// Resolve returns the identity bound to token. Absence, expiry and an
// inactive user all surface as shared.ErrUnauthenticated; callers must
// treat that as "not logged in", never as a retryable failure.
func (r *Resolver) Resolve(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, shared.ErrUnauthenticated
	}

	key := IdentityKey(token)
	if cached, ok := r.cache.Get(key); ok {
		if id, ok := cached.(*Identity); ok {
			return id, nil
		}
	}

	value, err, _ := r.group.Do(token, func() (any, error) {
		// Epoch taken before the lookup: an invalidation during the store
		// round-trip makes the fill stale and PutIfFresh drops it.
		snapshot := r.cache.Snapshot()
		id, err := r.lookup(ctx, token)
		if err != nil {
			return nil, err
		}
		r.cache.PutIfFresh(key, id, id.UserID, r.cfg.IdentityTTL, snapshot)
		r.maybeTouch(token)
		return id, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*Identity), nil
}

func (r *Resolver) lookup(ctx context.Context, token string) (*Identity, error) {
	id, err := r.findWithTimeout(ctx, token)
	if err != nil && !errors.Is(err, shared.ErrNotFound) && ctx.Err() == nil {
		// One bounded retry for transient store failures; the retry
		// obligation never propagates to the caller.
		if r.logger != nil {
			r.logger.Warn("session lookup retry", slog.Any("error", err))
		}
		id, err = r.findWithTimeout(ctx, token)
	}
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrUnauthenticated
		}
		if r.logger != nil {
			r.logger.Warn("session lookup degraded to unauthenticated", slog.Any("error", err))
		}
		return nil, shared.ErrUnauthenticated
	}
	if !id.IsActive {
		return nil, shared.ErrUnauthenticated
	}
	return id, nil
}

func (r *Resolver) findWithTimeout(ctx context.Context, token string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()
	return r.store.FindActiveSessionByToken(ctx, token)
}

// maybeTouch updates the session's last_active at most once per
// TouchInterval, off the request path.
func (r *Resolver) maybeTouch(token string) {
	now := r.clock()

	r.touchMu.Lock()
	last, seen := r.touched[token]
	if seen && now.Sub(last) < r.cfg.TouchInterval {
		r.touchMu.Unlock()
		return
	}
	r.touched[token] = now
	if len(r.touched) > 4096 {
		for tok, at := range r.touched {
			if now.Sub(at) >= r.cfg.TouchInterval {
				delete(r.touched, tok)
			}
		}
	}
	r.touchMu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StoreTimeout)
		defer cancel()
		if err := r.store.TouchLastActive(ctx, token, now); err != nil && r.logger != nil {
			r.logger.Warn("touch last active", slog.Any("error", err))
		}
	}()
}
