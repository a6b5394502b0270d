package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	perr "github.com/parceltrack/parcel-platform/contract/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Clients are the read endpoints of the three services, consumed as
// black-box collaborators.
type Clients struct {
	Packages   PackageReader
	Deliveries DeliveryReader
	Users      UserReader
}

type PackageReader interface {
	PackageByID(ctx context.Context, id string) (*PackageView, error)
}

type DeliveryReader interface {
	DeliveriesByPackage(ctx context.Context, packageID string) ([]DeliveryView, error)
}

type UserReader interface {
	UserByID(ctx context.Context, id string) (*UserView, error)
}

// FullDetails is the composite read: one merged object with explicit
// nullable sub-fields for each dependency.
type FullDetails struct {
	Package   *PackageView  `json:"package"`
	Delivery  *DeliveryView `json:"delivery"`
	Sender    *UserView     `json:"sender"`
	Recipient *UserView     `json:"recipient"`
}

// Aggregator answers composite reads by fanning out to the services and
// merging the responses. Dependent lookups run concurrently, each under its
// own timeout; any of them failing degrades that field to null. The only
// fatal condition is failure of the primary package lookup.
type Aggregator struct {
	clients  Clients
	timeout  time.Duration
	cache    *redis.Client
	cacheTTL time.Duration
	log      *zap.Logger
}

const defaultCallTimeout = 3 * time.Second

type Option func(*Aggregator)

// WithCallTimeout bounds each dependent call. A single slow dependency
// must not hold the whole composite read.
func WithCallTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.timeout = d }
}

// WithCache caches complete composite results in redis under a short TTL.
// Partial results are never cached; a degraded view must heal on the next
// read, not outlive the outage.
func WithCache(c *redis.Client, ttl time.Duration) Option {
	return func(a *Aggregator) {
		a.cache = c
		a.cacheTTL = ttl
	}
}

func New(clients Clients, log *zap.Logger, opts ...Option) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}

	a := &Aggregator{clients: clients, timeout: defaultCallTimeout, log: log}
	for _, o := range opts {
		o(a)
	}

	return a
}

// FullDetails fetches the package and stitches in its delivery, sender,
// and recipient.
func (a *Aggregator) FullDetails(ctx context.Context, packageID string) (*FullDetails, error) {
	if cached := a.cached(ctx, packageID); cached != nil {
		return cached, nil
	}

	pkg, err := a.primary(ctx, packageID)
	if err != nil {
		return nil, err
	}

	out := &FullDetails{Package: pkg}

	// Dependent lookups are independent; run them concurrently, capture
	// failures per dependency, and never fail the composite for them.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		deliveries, err := a.call(gctx, "delivery", func(c context.Context) (any, error) {
			return a.clients.Deliveries.DeliveriesByPackage(c, packageID)
		})
		if err == nil {
			if ds := deliveries.([]DeliveryView); len(ds) > 0 {
				out.Delivery = &ds[0]
			}
		}
		return nil
	})

	g.Go(func() error {
		sender, err := a.call(gctx, "sender", func(c context.Context) (any, error) {
			return a.clients.Users.UserByID(c, pkg.SenderID)
		})
		if err == nil {
			out.Sender = sender.(*UserView)
		}
		return nil
	})

	g.Go(func() error {
		recipient, err := a.call(gctx, "recipient", func(c context.Context) (any, error) {
			return a.clients.Users.UserByID(c, pkg.RecipientID)
		})
		if err == nil {
			out.Recipient = recipient.(*UserView)
		}
		return nil
	})

	_ = g.Wait() // goroutines only report nil; failures are captured above

	a.store(ctx, packageID, out)

	return out, nil
}

func (a *Aggregator) primary(ctx context.Context, packageID string) (*PackageView, error) {
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	pkg, err := a.clients.Packages.PackageByID(cctx, packageID)
	if err != nil {
		if errors.Is(err, perr.ErrNotFound) {
			return nil, fmt.Errorf("package %s: %w", packageID, perr.ErrNotFound)
		}

		return nil, fmt.Errorf("package %s: %w", packageID, errors.Join(perr.ErrDependencyUnavailable, err))
	}

	return pkg, nil
}

// call runs one dependent lookup under its own timeout and logs failures
// at warn level; the caller degrades the field to null.
func (a *Aggregator) call(ctx context.Context, name string, fn func(context.Context) (any, error)) (any, error) {
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	v, err := fn(cctx)
	if err != nil {
		a.log.Warn("composite dependency degraded",
			zap.String("dependency", name),
			zap.Error(err))
		return nil, err
	}

	return v, nil
}

func (a *Aggregator) cacheKey(packageID string) string {
	return "composite:package:" + packageID
}

func (a *Aggregator) cached(ctx context.Context, packageID string) *FullDetails {
	if a.cache == nil {
		return nil
	}

	raw, err := a.cache.Get(ctx, a.cacheKey(packageID)).Bytes()
	if err != nil {
		return nil
	}

	var out FullDetails
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}

	return &out
}

func (a *Aggregator) store(ctx context.Context, packageID string, out *FullDetails) {
	if a.cache == nil {
		return
	}

	if out.Delivery == nil || out.Sender == nil || out.Recipient == nil {
		return
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return
	}

	if err := a.cache.Set(ctx, a.cacheKey(packageID), raw, a.cacheTTL).Err(); err != nil {
		a.log.Warn("composite cache store failed", zap.Error(err))
	}
}
