package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/allisson/hookrelay/internal/errors"
	"github.com/allisson/hookrelay/internal/resilience"
	"github.com/allisson/hookrelay/internal/webhook/domain"
)

const maxRegistryResponseBytes = 1 << 20

type subscriptionResponse struct {
	ID         int64    `json:"id"`
	TargetURL  string   `json:"target_url"`
	Secret     string   `json:"secret"`
	Active     bool     `json:"active"`
	EventNames []string `json:"event_names"`
}

func (s subscriptionResponse) toDomain() *domain.Subscription {
	names := make([]domain.EventName, 0, len(s.EventNames))
	for _, name := range s.EventNames {
		names = append(names, domain.EventName(name))
	}
	return &domain.Subscription{
		ID:         s.ID,
		TargetURL:  s.TargetURL,
		Secret:     s.Secret,
		Active:     s.Active,
		EventNames: names,
	}
}

type subscriptionListResponse struct {
	Data []subscriptionResponse `json:"data"`
}

type cachedAnswer[T any] struct {
	value    T
	storedAt time.Time
}

// RESTSubscriptionRegistry reads subscriptions from the remote webhook service. Lookups run through
// the resilience proxy; when it gives up, the last answer younger than the cache TTL is served instead.
type RESTSubscriptionRegistry struct {
	baseURL string
	client  *http.Client
	proxy   *resilience.Proxy
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	byName map[domain.EventName]cachedAnswer[[]*domain.Subscription]
	byID   map[int64]cachedAnswer[*domain.Subscription]
}

// NewRESTSubscriptionRegistry creates a RESTSubscriptionRegistry rooted at baseURL.
func NewRESTSubscriptionRegistry(
	baseURL string,
	client *http.Client,
	proxy *resilience.Proxy,
	ttl time.Duration,
	logger *slog.Logger,
) *RESTSubscriptionRegistry {
	return &RESTSubscriptionRegistry{
		baseURL: baseURL,
		client:  client,
		proxy:   proxy,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		byName:  make(map[domain.EventName]cachedAnswer[[]*domain.Subscription]),
		byID:    make(map[int64]cachedAnswer[*domain.Subscription]),
	}
}

// ListActiveSubscriptionsFor returns active subscriptions registered for name.
func (r *RESTSubscriptionRegistry) ListActiveSubscriptionsFor(
	ctx context.Context,
	name domain.EventName,
) ([]*domain.Subscription, error) {
	endpoint, err := url.JoinPath(r.baseURL, "v1", "events", string(name), "subscriptions")
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to build registry url")
	}

	return resilience.Call(ctx, r.proxy, resilience.TargetFromURL(r.baseURL),
		func(ctx context.Context) ([]*domain.Subscription, error) {
			var body subscriptionListResponse
			if err := r.getJSON(ctx, endpoint, &body); err != nil {
				return nil, err
			}
			subs := make([]*domain.Subscription, 0, len(body.Data))
			for _, item := range body.Data {
				if item.Active {
					subs = append(subs, item.toDomain())
				}
			}

			r.mu.Lock()
			r.byName[name] = cachedAnswer[[]*domain.Subscription]{value: subs, storedAt: r.now()}
			r.mu.Unlock()
			return subs, nil
		},
		func(ctx context.Context, err error) ([]*domain.Subscription, error) {
			r.mu.Lock()
			cached, ok := r.byName[name]
			r.mu.Unlock()

			if ok && r.fresh(cached.storedAt) {
				r.logFallback(ctx, "event_name", string(name), err)
				return cached.value, nil
			}
			return nil, apperrors.Wrapf(apperrors.ErrUnavailable, "list subscriptions for %s: %v", name, err)
		},
	)
}

// Get returns a subscription by id, active or not.
func (r *RESTSubscriptionRegistry) Get(ctx context.Context, id int64) (*domain.Subscription, error) {
	endpoint, err := url.JoinPath(r.baseURL, "v1", "subscriptions", strconv.FormatInt(id, 10))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to build registry url")
	}

	return resilience.Call(ctx, r.proxy, resilience.TargetFromURL(r.baseURL),
		func(ctx context.Context) (*domain.Subscription, error) {
			var body subscriptionResponse
			if err := r.getJSON(ctx, endpoint, &body); err != nil {
				return nil, err
			}
			sub := body.toDomain()

			r.mu.Lock()
			r.byID[id] = cachedAnswer[*domain.Subscription]{value: sub, storedAt: r.now()}
			r.mu.Unlock()
			return sub, nil
		},
		func(ctx context.Context, err error) (*domain.Subscription, error) {
			if apperrors.Is(err, domain.ErrSubscriptionNotFound) {
				r.mu.Lock()
				delete(r.byID, id)
				r.mu.Unlock()
				return nil, domain.ErrSubscriptionNotFound
			}

			r.mu.Lock()
			cached, ok := r.byID[id]
			r.mu.Unlock()

			if ok && r.fresh(cached.storedAt) {
				r.logFallback(ctx, "subscription_id", strconv.FormatInt(id, 10), err)
				return cached.value, nil
			}
			return nil, apperrors.Wrapf(apperrors.ErrUnavailable, "get subscription %d: %v", id, err)
		},
	)
}

func (r *RESTSubscriptionRegistry) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return resilience.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return resilience.Permanent(domain.ErrSubscriptionNotFound)
	}
	if err := resilience.CheckResponse(resp); err != nil {
		return err
	}

	decoder := json.NewDecoder(io.LimitReader(resp.Body, maxRegistryResponseBytes))
	if err := decoder.Decode(out); err != nil {
		return resilience.Permanent(fmt.Errorf("decode registry response: %w", err))
	}
	return nil
}

func (r *RESTSubscriptionRegistry) fresh(storedAt time.Time) bool {
	return r.now().Sub(storedAt) <= r.ttl
}

func (r *RESTSubscriptionRegistry) logFallback(ctx context.Context, key, value string, err error) {
	if r.logger == nil {
		return
	}
	r.logger.WarnContext(ctx, "subscription registry unavailable, serving cached answer",
		slog.String(key, value),
		slog.Any("error", err),
	)
}
