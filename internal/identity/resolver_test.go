package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atlascms/atlas/internal/shared"
)

type stubStore struct {
	mu      sync.Mutex
	lookups int
	touches int

	identity *Identity
	err      error
	delay    time.Duration
}

func (s *stubStore) FindActiveSessionByToken(ctx context.Context, token string) (*Identity, error) {
	s.mu.Lock()
	s.lookups++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.identity, nil
}

func (s *stubStore) TouchLastActive(ctx context.Context, token string, at time.Time) error {
	s.mu.Lock()
	s.touches++
	s.mu.Unlock()
	return nil
}

func (s *stubStore) lookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func newTestResolver(store *stubStore, clock func() time.Time) (*Resolver, *Cache) {
	cache := NewCache(clock)
	resolver := NewResolver(store, cache, nil, ResolverConfig{
		IdentityTTL:   30 * time.Second,
		StoreTimeout:  100 * time.Millisecond,
		TouchInterval: time.Minute,
	}, clock)
	return resolver, cache
}

func TestResolveEmptyTokenIsUnauthenticated(t *testing.T) {
	resolver, _ := newTestResolver(&stubStore{}, nil)
	_, err := resolver.Resolve(context.Background(), "")
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestResolveCachesTheIdentity(t *testing.T) {
	store := &stubStore{identity: &Identity{UserID: 1, IsActive: true, Role: "editor"}}
	resolver, _ := newTestResolver(store, nil)

	first, err := resolver.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	second, err := resolver.Resolve(context.Background(), "tok")
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 1, store.lookupCount())
}

func TestResolveUnknownTokenIsUnauthenticated(t *testing.T) {
	store := &stubStore{err: shared.ErrNotFound}
	resolver, _ := newTestResolver(store, nil)

	_, err := resolver.Resolve(context.Background(), "tok")
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
	// NotFound is definitive; no retry.
	require.Equal(t, 1, store.lookupCount())
}

func TestResolveInactiveUserIsUnauthenticated(t *testing.T) {
	store := &stubStore{identity: &Identity{UserID: 1, IsActive: false}}
	resolver, _ := newTestResolver(store, nil)

	_, err := resolver.Resolve(context.Background(), "tok")
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestResolveRetriesTransientFailureOnce(t *testing.T) {
	store := &stubStore{err: errors.New("connection reset")}
	resolver, _ := newTestResolver(store, nil)

	_, err := resolver.Resolve(context.Background(), "tok")
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
	require.Equal(t, 2, store.lookupCount())
}

func TestResolveSlowStoreDegradesToUnauthenticated(t *testing.T) {
	store := &stubStore{identity: &Identity{UserID: 1, IsActive: true}, delay: time.Second}
	resolver, _ := newTestResolver(store, nil)

	start := time.Now()
	_, err := resolver.Resolve(context.Background(), "tok")
	require.ErrorIs(t, err, shared.ErrUnauthenticated)
	require.Less(t, time.Since(start), time.Second)
}

func TestResolveAfterInvalidationHitsTheStoreAgain(t *testing.T) {
	store := &stubStore{identity: &Identity{UserID: 9, IsActive: true}}
	resolver, cache := newTestResolver(store, nil)

	_, err := resolver.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	cache.InvalidateUser(9)

	_, err = resolver.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	require.Equal(t, 2, store.lookupCount())
}

// gatedStore blocks its first lookup until released, so a test can drive
// an invalidation into the middle of an in-flight store round-trip.
type gatedStore struct {
	mu       sync.Mutex
	lookups  int
	identity *Identity

	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) FindActiveSessionByToken(ctx context.Context, token string) (*Identity, error) {
	s.mu.Lock()
	s.lookups++
	n := s.lookups
	id := s.identity
	s.mu.Unlock()
	if n == 1 {
		close(s.entered)
		<-s.release
	}
	return id, nil
}

func (s *gatedStore) TouchLastActive(context.Context, string, time.Time) error { return nil }

func TestResolveRacingInvalidationDoesNotReinstallStaleIdentity(t *testing.T) {
	store := &gatedStore{
		identity: &Identity{UserID: 1, IsActive: true, Permissions: map[string]struct{}{"users.view": {}}},
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	cache := NewCache(nil)
	resolver := NewResolver(store, cache, nil, ResolverConfig{
		IdentityTTL:   30 * time.Second,
		StoreTimeout:  time.Second,
		TouchInterval: time.Minute,
	}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = resolver.Resolve(context.Background(), "tok")
	}()

	// The lookup is in flight when the permission is revoked and the
	// caches flushed for the user.
	<-store.entered
	cache.InvalidateUser(1)
	store.mu.Lock()
	store.identity = &Identity{UserID: 1, IsActive: true, Permissions: map[string]struct{}{}}
	store.mu.Unlock()
	close(store.release)
	<-done

	// The pre-revocation identity must not have been re-cached: the next
	// resolve goes back to the store and sees the revoked set.
	got, err := resolver.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	require.False(t, got.HasPermission("users.view"))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, 2, store.lookups)
}

func TestResolveCollapsesConcurrentMisses(t *testing.T) {
	store := &stubStore{identity: &Identity{UserID: 3, IsActive: true}, delay: 20 * time.Millisecond}
	resolver, _ := newTestResolver(store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := resolver.Resolve(context.Background(), "tok")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, store.lookupCount())
}

func TestTouchIsCoalescedPerInterval(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	store := &stubStore{identity: &Identity{UserID: 1, IsActive: true}}
	cache := NewCache(clock.Now)
	resolver := NewResolver(store, cache, nil, ResolverConfig{
		IdentityTTL:   time.Second,
		StoreTimeout:  100 * time.Millisecond,
		TouchInterval: time.Minute,
	}, clock.Now)

	// The short TTL forces every resolve through the store, so each one
	// is a touch opportunity.
	for i := 0; i < 5; i++ {
		_, err := resolver.Resolve(context.Background(), "tok")
		require.NoError(t, err)
		clock.Advance(2 * time.Second)
	}

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.touches == 1
	}, time.Second, 10*time.Millisecond)

	clock.Advance(2 * time.Minute)
	_, err := resolver.Resolve(context.Background(), "tok")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.touches == 2
	}, time.Second, 10*time.Millisecond)
}
