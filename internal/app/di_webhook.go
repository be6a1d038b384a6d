package app

import (
	"context"
	"fmt"
	"net/http"

	changeEventService "github.com/allisson/hookrelay/internal/changeevent/service"
	"github.com/allisson/hookrelay/internal/database"
	"github.com/allisson/hookrelay/internal/resilience"
	webhookHTTP "github.com/allisson/hookrelay/internal/webhook/http"
	webhookRepository "github.com/allisson/hookrelay/internal/webhook/repository"
	webhookService "github.com/allisson/hookrelay/internal/webhook/service"
	webhookUseCase "github.com/allisson/hookrelay/internal/webhook/usecase"
)

// ResilienceConfig returns the proxy and circuit breaker settings derived from configuration.
func (c *Container) ResilienceConfig() resilience.Config {
	return resilience.Config{
		MaxRetries:           c.config.ResilienceMaxRetries,
		BackoffBase:          c.config.ResilienceBackoffBase,
		BackoffMultiplier:    c.config.ResilienceBackoffMultiplier,
		BackoffMax:           c.config.ResilienceBackoffMax,
		FailureRateThreshold: c.config.ResilienceFailureRateThreshold,
		Window:               c.config.ResilienceWindow,
		WindowBuckets:        c.config.ResilienceWindowBuckets,
		MinimumCalls:         c.config.ResilienceMinimumCalls,
		OpenStateCooldown:    c.config.ResilienceOpenStateCooldown,
		HalfOpenMaxCalls:     c.config.ResilienceHalfOpenMaxCalls,
		CallTimeout:          c.config.ResilienceCallTimeout,
	}
}

// BreakerRegistry returns the process-wide circuit breaker registry.
func (c *Container) BreakerRegistry() (*resilience.Registry, error) {
	var err error
	c.breakerRegistryInit.Do(func() {
		c.breakerRegistry, err = c.initBreakerRegistry()
		if err != nil {
			c.initErrors["breakerRegistry"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["breakerRegistry"]; exists {
		return nil, storedErr
	}
	return c.breakerRegistry, nil
}

// ResilienceProxy returns the retry and circuit breaking proxy shared by every outbound call.
func (c *Container) ResilienceProxy() (*resilience.Proxy, error) {
	var err error
	c.resilienceProxyInit.Do(func() {
		c.resilienceProxy, err = c.initResilienceProxy()
		if err != nil {
			c.initErrors["resilienceProxy"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["resilienceProxy"]; exists {
		return nil, storedErr
	}
	return c.resilienceProxy, nil
}

// NotificationRepository returns the notification store based on database driver.
func (c *Container) NotificationRepository() (webhookUseCase.NotificationRepository, error) {
	var err error
	c.notificationRepositoryInit.Do(func() {
		c.notificationRepository, err = c.initNotificationRepository()
		if err != nil {
			c.initErrors["notificationRepository"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["notificationRepository"]; exists {
		return nil, storedErr
	}
	return c.notificationRepository, nil
}

// SubscriptionRegistry returns the remote registry when SUBSCRIPTION_REGISTRY_URL is set,
// otherwise the database-backed one.
func (c *Container) SubscriptionRegistry() (webhookService.SubscriptionRegistry, error) {
	var err error
	c.subscriptionRegistryInit.Do(func() {
		c.subscriptionRegistry, err = c.initSubscriptionRegistry()
		if err != nil {
			c.initErrors["subscriptionRegistry"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["subscriptionRegistry"]; exists {
		return nil, storedErr
	}
	return c.subscriptionRegistry, nil
}

// EventRegistry returns the event catalog matcher.
func (c *Container) EventRegistry() (*webhookService.EventRegistry, error) {
	var err error
	c.eventRegistryInit.Do(func() {
		var subscriptions webhookService.SubscriptionRegistry
		subscriptions, err = c.SubscriptionRegistry()
		if err != nil {
			err = fmt.Errorf("failed to get subscription registry for event registry: %w", err)
			c.initErrors["eventRegistry"] = err
			return
		}
		c.eventRegistry = webhookService.NewEventRegistry(subscriptions)
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["eventRegistry"]; exists {
		return nil, storedErr
	}
	return c.eventRegistry, nil
}

// WebhookSender returns the HTTP sender used for single delivery attempts.
func (c *Container) WebhookSender() *webhookService.WebhookSender {
	c.webhookSenderInit.Do(func() {
		c.webhookSender = webhookService.NewWebhookSender(
			&http.Client{},
			webhookService.SenderConfig{
				UserAgent:       c.config.WebhookUserAgent,
				RateLimitPerSec: c.config.WebhookRateLimitPerSec,
				RateLimitBurst:  c.config.WebhookRateLimitBurst,
			},
			c.Logger(),
		)
	})
	return c.webhookSender
}

// Deliverer returns the deliverer that sends notifications through the resilience proxy.
func (c *Container) Deliverer() (*webhookService.Deliverer, error) {
	var err error
	c.delivererInit.Do(func() {
		var proxy *resilience.Proxy
		proxy, err = c.ResilienceProxy()
		if err != nil {
			err = fmt.Errorf("failed to get resilience proxy for deliverer: %w", err)
			c.initErrors["deliverer"] = err
			return
		}
		c.deliverer = webhookService.NewDeliverer(proxy, c.WebhookSender(), c.Logger())
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["deliverer"]; exists {
		return nil, storedErr
	}
	return c.deliverer, nil
}

// IngestUseCase returns the ingest use case.
func (c *Container) IngestUseCase() (webhookUseCase.IngestUseCase, error) {
	var err error
	c.ingestUseCaseInit.Do(func() {
		c.ingestUseCase, err = c.initIngestUseCase()
		if err != nil {
			c.initErrors["ingestUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["ingestUseCase"]; exists {
		return nil, storedErr
	}
	return c.ingestUseCase, nil
}

// DispatcherUseCase returns the dispatcher use case.
func (c *Container) DispatcherUseCase() (webhookUseCase.DispatcherUseCase, error) {
	var err error
	c.dispatcherUseCaseInit.Do(func() {
		c.dispatcherUseCase, err = c.initDispatcherUseCase()
		if err != nil {
			c.initErrors["dispatcherUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["dispatcherUseCase"]; exists {
		return nil, storedErr
	}
	return c.dispatcherUseCase, nil
}

// NotificationUseCase returns the notification administration use case.
func (c *Container) NotificationUseCase() (webhookUseCase.NotificationUseCase, error) {
	var err error
	c.notificationUseCaseInit.Do(func() {
		c.notificationUseCase, err = c.initNotificationUseCase()
		if err != nil {
			c.initErrors["notificationUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["notificationUseCase"]; exists {
		return nil, storedErr
	}
	return c.notificationUseCase, nil
}

// ConsumerUseCase returns the change event consumer reading from CDC_SUBSCRIPTION_URL.
func (c *Container) ConsumerUseCase(ctx context.Context) (webhookUseCase.ConsumerUseCase, error) {
	var err error
	c.consumerUseCaseInit.Do(func() {
		c.consumerUseCase, err = c.initConsumerUseCase(ctx)
		if err != nil {
			c.initErrors["consumerUseCase"] = err
		}
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["consumerUseCase"]; exists {
		return nil, storedErr
	}
	return c.consumerUseCase, nil
}

// EventHandler returns the HTTP handler for change envelope ingestion.
func (c *Container) EventHandler() (*webhookHTTP.EventHandler, error) {
	var err error
	c.eventHandlerInit.Do(func() {
		var useCase webhookUseCase.IngestUseCase
		useCase, err = c.IngestUseCase()
		if err != nil {
			err = fmt.Errorf("failed to get ingest use case for event handler: %w", err)
			c.initErrors["eventHandler"] = err
			return
		}
		c.eventHandler = webhookHTTP.NewEventHandler(useCase, c.Logger())
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["eventHandler"]; exists {
		return nil, storedErr
	}
	return c.eventHandler, nil
}

// NotificationHandler returns the HTTP handler for notification administration.
func (c *Container) NotificationHandler() (*webhookHTTP.NotificationHandler, error) {
	var err error
	c.notificationHandlerInit.Do(func() {
		var useCase webhookUseCase.NotificationUseCase
		useCase, err = c.NotificationUseCase()
		if err != nil {
			err = fmt.Errorf("failed to get notification use case for notification handler: %w", err)
			c.initErrors["notificationHandler"] = err
			return
		}
		c.notificationHandler = webhookHTTP.NewNotificationHandler(useCase, c.Logger())
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["notificationHandler"]; exists {
		return nil, storedErr
	}
	return c.notificationHandler, nil
}

// CircuitBreakerHandler returns the HTTP handler for circuit breaker inspection.
func (c *Container) CircuitBreakerHandler() (*webhookHTTP.CircuitBreakerHandler, error) {
	var err error
	c.circuitBreakerHandlerInit.Do(func() {
		var registry *resilience.Registry
		registry, err = c.BreakerRegistry()
		if err != nil {
			err = fmt.Errorf("failed to get breaker registry for circuit breaker handler: %w", err)
			c.initErrors["circuitBreakerHandler"] = err
			return
		}
		c.circuitBreakerHandler = webhookHTTP.NewCircuitBreakerHandler(registry, c.Logger())
	})
	if err != nil {
		return nil, err
	}
	if storedErr, exists := c.initErrors["circuitBreakerHandler"]; exists {
		return nil, storedErr
	}
	return c.circuitBreakerHandler, nil
}

// initBreakerRegistry creates the breaker registry and reports state changes to delivery metrics.
func (c *Container) initBreakerRegistry() (*resilience.Registry, error) {
	cfg := c.ResilienceConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resilience configuration: %w", err)
	}

	deliveryMetrics, err := c.DeliveryMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery metrics for breaker registry: %w", err)
	}

	return resilience.NewRegistry(
		cfg,
		c.Logger(),
		resilience.WithTransitionHook(func(target string, from, to resilience.State) {
			deliveryMetrics.RecordCircuitTransition(context.Background(), target, from.String(), to.String())
		}),
	), nil
}

func (c *Container) initResilienceProxy() (*resilience.Proxy, error) {
	registry, err := c.BreakerRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to get breaker registry for resilience proxy: %w", err)
	}

	deliveryMetrics, err := c.DeliveryMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery metrics for resilience proxy: %w", err)
	}

	return resilience.NewProxy(c.ResilienceConfig(), registry, c.Logger(), deliveryMetrics), nil
}

// initNotificationRepository creates the notification repository based on the database driver.
func (c *Container) initNotificationRepository() (webhookUseCase.NotificationRepository, error) {
	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for notification repository: %w", err)
	}

	switch c.config.DBDriver {
	case database.DriverPostgres:
		return webhookRepository.NewPostgreSQLNotificationRepository(db), nil
	case database.DriverMySQL:
		return webhookRepository.NewMySQLNotificationRepository(db), nil
	case database.DriverSQLite:
		return webhookRepository.NewSQLiteNotificationRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

func (c *Container) initSubscriptionRegistry() (webhookService.SubscriptionRegistry, error) {
	if c.config.SubscriptionRegistryURL != "" {
		proxy, err := c.ResilienceProxy()
		if err != nil {
			return nil, fmt.Errorf("failed to get resilience proxy for subscription registry: %w", err)
		}
		return webhookRepository.NewRESTSubscriptionRegistry(
			c.config.SubscriptionRegistryURL,
			&http.Client{},
			proxy,
			c.config.SubscriptionRegistryCacheTTL,
			c.Logger(),
		), nil
	}

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for subscription registry: %w", err)
	}
	return webhookRepository.NewSQLSubscriptionRegistry(db, c.config.DBDriver), nil
}

// initIngestUseCase creates the ingest use case with all its dependencies.
func (c *Container) initIngestUseCase() (webhookUseCase.IngestUseCase, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for ingest use case: %w", err)
	}

	notificationRepository, err := c.NotificationRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get notification repository for ingest use case: %w", err)
	}

	eventRegistry, err := c.EventRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to get event registry for ingest use case: %w", err)
	}

	baseUseCase := webhookUseCase.NewIngestUseCase(
		txManager,
		notificationRepository,
		changeEventService.NewDecoder(),
		eventRegistry,
		c.Logger(),
	)

	// Wrap with metrics if enabled
	if c.config.MetricsEnabled {
		businessMetrics, err := c.BusinessMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get business metrics for ingest use case: %w", err)
		}
		return webhookUseCase.NewIngestUseCaseWithMetrics(baseUseCase, businessMetrics), nil
	}

	return baseUseCase, nil
}

// initDispatcherUseCase creates the dispatcher use case with all its dependencies.
func (c *Container) initDispatcherUseCase() (webhookUseCase.DispatcherUseCase, error) {
	notificationRepository, err := c.NotificationRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get notification repository for dispatcher use case: %w", err)
	}

	subscriptions, err := c.SubscriptionRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription registry for dispatcher use case: %w", err)
	}

	deliverer, err := c.Deliverer()
	if err != nil {
		return nil, fmt.Errorf("failed to get deliverer for dispatcher use case: %w", err)
	}

	deliveryMetrics, err := c.DeliveryMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery metrics for dispatcher use case: %w", err)
	}

	baseUseCase := webhookUseCase.NewDispatcherUseCase(
		webhookUseCase.DispatcherConfig{
			Workers:          c.config.DispatcherWorkers,
			BatchSize:        c.config.DispatcherBatchSize,
			PollInterval:     c.config.DispatcherPollInterval,
			MaxAttempts:      c.config.ResilienceMaxRetries,
			DeliveryTimeout:  c.config.DispatcherDeliveryTimeout,
			RetryBackoffBase: c.config.DispatcherRetryBackoffBase,
			RetryBackoffMax:  c.config.DispatcherRetryBackoffMax,
		},
		notificationRepository,
		subscriptions,
		deliverer,
		deliveryMetrics,
		c.Logger(),
	)

	// Wrap with metrics if enabled
	if c.config.MetricsEnabled {
		businessMetrics, err := c.BusinessMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get business metrics for dispatcher use case: %w", err)
		}
		return webhookUseCase.NewDispatcherUseCaseWithMetrics(baseUseCase, businessMetrics), nil
	}

	return baseUseCase, nil
}

// initNotificationUseCase creates the notification use case with all its dependencies.
func (c *Container) initNotificationUseCase() (webhookUseCase.NotificationUseCase, error) {
	txManager, err := c.TxManager()
	if err != nil {
		return nil, fmt.Errorf("failed to get tx manager for notification use case: %w", err)
	}

	notificationRepository, err := c.NotificationRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get notification repository for notification use case: %w", err)
	}

	baseUseCase := webhookUseCase.NewNotificationUseCase(txManager, notificationRepository, c.Logger())

	// Wrap with metrics if enabled
	if c.config.MetricsEnabled {
		businessMetrics, err := c.BusinessMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to get business metrics for notification use case: %w", err)
		}
		return webhookUseCase.NewNotificationUseCaseWithMetrics(baseUseCase, businessMetrics), nil
	}

	return baseUseCase, nil
}

func (c *Container) initConsumerUseCase(ctx context.Context) (webhookUseCase.ConsumerUseCase, error) {
	ingestUseCase, err := c.IngestUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get ingest use case for consumer use case: %w", err)
	}

	subscription, err := webhookUseCase.OpenSubscription(ctx, c.config.CDCSubscriptionURL)
	if err != nil {
		return nil, err
	}

	return webhookUseCase.NewConsumerUseCase(subscription, ingestUseCase, c.Logger()), nil
}
