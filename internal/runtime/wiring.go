package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/busflow/internal/runtime/admin"
	"github.com/drblury/busflow/internal/runtime/admin/memory"
	"github.com/drblury/busflow/internal/runtime/client"
	configpkg "github.com/drblury/busflow/internal/runtime/config"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
)

// Dependencies holds the optional collaborators NewFromConfig uses.
// Leave fields nil to get the defaults.
type Dependencies struct {
	Logger loggingpkg.ServiceLogger
	// AdminAPI manages the remote subscription. Defaults to an in-memory
	// admin, which also filters deliveries by the installed rules.
	AdminAPI admin.AdminAPI
	// Registerer receives the metrics when cfg.MetricsEnabled is set.
	// Defaults to prometheus.DefaultRegisterer.
	Registerer    prometheus.Registerer
	Hooks         DispatchHooks
	Tracer        trace.Tracer
	ClientOptions []client.Option // Appended after the options derived from cfg.
}

// NewFromConfig builds the transport selected by cfg, the watermill client,
// the subscription reconciler and the bus on top of them.
func NewFromConfig(ctx context.Context, cfg *configpkg.Config, deps Dependencies) (*MessageBus, error) {
	if cfg == nil {
		return nil, errspkg.ErrConfigRequired
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	logger.Info("Creating message bus", loggingpkg.LogFields{
		"pubsub_system": cfg.PubSubSystem,
		"config":        cfg,
	})

	api := deps.AdminAPI
	if api == nil {
		api = memory.New()
	}

	clientOpts := []client.Option{client.WithLogger(logger)}
	if rules, ok := api.(admin.RuleEvaluator); ok {
		clientOpts = append(clientOpts, client.WithRuleEvaluator(rules))
	}
	busOpts := []Option{WithLogger(logger), WithHooks(deps.Hooks), WithTracer(deps.Tracer)}
	adminOpts := []admin.Option{admin.WithLogger(logger)}

	if cfg.MetricsEnabled {
		reg := deps.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		busMetrics, err := NewMetrics(reg)
		if err != nil {
			return nil, fmt.Errorf("register bus metrics: %w", err)
		}
		clientMetrics, err := client.NewMetrics(reg)
		if err != nil {
			return nil, fmt.Errorf("register client metrics: %w", err)
		}
		adminMetrics, err := admin.NewMetrics(reg)
		if err != nil {
			return nil, fmt.Errorf("register admin metrics: %w", err)
		}
		busOpts = append(busOpts, WithMetrics(busMetrics))
		adminOpts = append(adminOpts, admin.WithMetrics(adminMetrics))
		clientOpts = append(clientOpts, client.WithMetrics(clientMetrics), client.WithRouterMetrics(reg, "router"))
	}
	clientOpts = append(clientOpts, deps.ClientOptions...)

	busClient, err := client.NewFromConfig(ctx, cfg, clientOpts...)
	if err != nil {
		return nil, err
	}
	reconciler, err := admin.NewReconcilerWithSubscriptionOptions(api, cfg.TopicName, cfg.SubscriptionName, cfg.SubscriptionOptions(), adminOpts...)
	if err != nil {
		return nil, errors.Join(err, busClient.Close(ctx))
	}
	bus, err := NewMessageBus(busClient, reconciler, cfg.Options(), busOpts...)
	if err != nil {
		return nil, errors.Join(err, busClient.Close(ctx))
	}
	return bus, nil
}
