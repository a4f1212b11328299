package busflow

import (
	"context"

	runtimepkg "github.com/drblury/busflow/internal/runtime"
	"github.com/drblury/busflow/internal/runtime/admin"
	"github.com/drblury/busflow/internal/runtime/admin/memory"
	"github.com/drblury/busflow/internal/runtime/client"
	configpkg "github.com/drblury/busflow/internal/runtime/config"
	"github.com/drblury/busflow/internal/runtime/envelope"
	errspkg "github.com/drblury/busflow/internal/runtime/errors"
	"github.com/drblury/busflow/internal/runtime/filter"
	"github.com/drblury/busflow/internal/runtime/handlers"
	idspkg "github.com/drblury/busflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/busflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/busflow/internal/runtime/logging"
	"github.com/drblury/busflow/internal/runtime/processors"
	propspkg "github.com/drblury/busflow/internal/runtime/properties"
	"github.com/drblury/busflow/transport"

	_ "github.com/drblury/busflow/transport/transports"
)

type (
	Config       = configpkg.Config
	Dependencies = runtimepkg.Dependencies

	MessageBus       = runtimepkg.MessageBus
	MessageBusOption = runtimepkg.Option
	State            = runtimepkg.State
	Metrics          = runtimepkg.Metrics
	DispatchHooks    = runtimepkg.DispatchHooks
	DispatchInfo     = runtimepkg.DispatchInfo

	MessageBusOptions = envelope.Options
	Outgoing          = envelope.Outgoing
	Outbound          = envelope.Outbound
	Message[T any]    = envelope.Message[T]
	TypeInfo          = envelope.TypeInfo
	Versioned         = envelope.Versioned
	Named             = envelope.Named
	Properties        = propspkg.Properties

	SubscriptionFilter    = filter.SubscriptionFilter
	BuiltFilter           = filter.BuiltFilter
	MessageHandlerMapping = filter.MessageHandlerMapping

	MessageHandler[T any]    = handlers.MessageHandler[T]
	HandlerFunc[T any]       = handlers.HandlerFunc[T]
	MessageContext[T any]    = handlers.MessageContext[T]
	MessageContextBase       = handlers.MessageContextBase
	Context                  = handlers.Context
	MessageReceivedEventArgs = handlers.MessageReceivedEventArgs
	MessageErrorEventArgs    = handlers.MessageErrorReceivedEventArgs
	MessageHandlerResolver   = handlers.MessageHandlerResolver

	MessageProcessor         = processors.MessageProcessor
	ProcessorFunc            = processors.ProcessorFunc
	MessageProcessorResolver = processors.MessageProcessorResolver

	MessageBusClient      = client.MessageBusClient
	Client                = client.Client
	ClientSettings        = client.Settings
	ClientOption          = client.Option
	MessageBusAdminClient = admin.MessageBusAdminClient
	AdminAPI              = admin.AdminAPI
	Reconciler            = admin.Reconciler
	SubscriptionOptions   = admin.SubscriptionOptions
	Rule                  = admin.Rule
	RuleFilter            = admin.RuleFilter

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
	TransportSubscription = transport.Subscription

	MessageHandlerNotFoundError   = errspkg.MessageHandlerNotFoundError
	MessageProcessorNotFoundError = errspkg.MessageProcessorNotFoundError
	MessageReceivedError          = errspkg.MessageReceivedError
)

const (
	DefaultMessageTypePropertyName    = envelope.DefaultMessageTypePropertyName
	DefaultMessageVersionPropertyName = envelope.DefaultMessageVersionPropertyName

	StateUnconfigured = runtimepkg.StateUnconfigured
	StateConfigured   = runtimepkg.StateConfigured
	StateStarted      = runtimepkg.StateStarted
	StateStopped      = runtimepkg.StateStopped

	ReasonMaxDeliveryCountExceeded = client.ReasonMaxDeliveryCountExceeded
)

var (
	NewMessageBus = runtimepkg.NewMessageBus
	WithLogger    = runtimepkg.WithLogger
	WithMetrics   = runtimepkg.WithMetrics
	WithHooks     = runtimepkg.WithHooks
	WithTracer    = runtimepkg.WithTracer
	NewMetrics    = runtimepkg.NewMetrics
	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	DefaultMessageBusOptions = envelope.DefaultOptions

	NewClient                  = client.New
	NewClientFromConfig        = client.NewFromConfig
	NewReconciler              = admin.NewReconciler
	NewMemoryAdmin             = memory.New
	DefaultSubscriptionOptions = admin.DefaultSubscriptionOptions

	LoadConfig     = configpkg.LoadFile
	ValidateConfig = configpkg.ValidateConfig

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	CreateULID   = idspkg.CreateULID
	NewMessageID = idspkg.NewMessageID

	ErrFilterRequired         = errspkg.ErrFilterRequired
	ErrFilterNotBuilt         = errspkg.ErrFilterNotBuilt
	ErrNegativeMessageVersion = errspkg.ErrNegativeMessageVersion
	ErrHandlerFactoryRequired = errspkg.ErrHandlerFactoryRequired
	ErrMessageBodyConflict    = errspkg.ErrMessageBodyConflict
	ErrMessageRequired        = errspkg.ErrMessageRequired
	ErrResolverNotInitialized = errspkg.ErrResolverNotInitialized
	ErrResolverInitialized    = errspkg.ErrResolverInitialized
	ErrBusNotConfigured       = errspkg.ErrBusNotConfigured
	ErrBusAlreadyStarted      = errspkg.ErrBusAlreadyStarted
	ErrClientRequired         = errspkg.ErrClientRequired
	ErrAdminClientRequired    = errspkg.ErrAdminClientRequired
	ErrSessionNotSupported    = errspkg.ErrSessionNotSupported
	ErrNoMessageHandler       = errspkg.ErrNoMessageHandler
	ErrNoMatchingSubscription = errspkg.ErrNoMatchingSubscription
	ErrConfigRequired         = errspkg.ErrConfigRequired
	ErrClientClosed           = errspkg.ErrClientClosed
	ErrMessageTooLarge        = errspkg.ErrMessageTooLarge
)

// New builds a message bus from cfg; see Dependencies for the optional collaborators.
func New(ctx context.Context, cfg *Config, deps Dependencies) (*MessageBus, error) {
	return runtimepkg.NewFromConfig(ctx, cfg, deps)
}

// NewMessage wraps a typed message body.
func NewMessage[T any](body T) *Message[T] {
	return envelope.NewMessage(body)
}

// NewStringMessage wraps an already serialised body for message type T.
func NewStringMessage[T any](body string) *Message[T] {
	return envelope.NewStringMessage[T](body)
}

// TypeInfoOf returns the routing metadata of message type T.
func TypeInfoOf[T any]() (TypeInfo, error) {
	return envelope.TypeInfoOf[T]()
}

// SubscribeToMessage registers the handler built by factory for messages of type T.
func SubscribeToMessage[T any, H MessageHandler[T]](bus *MessageBus, f *SubscriptionFilter, factory func() H) error {
	return runtimepkg.SubscribeToMessage[T, H](bus, f, factory)
}

// Subscribe registers fn for messages of type T selected by f.
func Subscribe[T any](bus *MessageBus, f *SubscriptionFilter, fn func(ctx context.Context, mc *MessageContext[T]) error) error {
	return runtimepkg.SubscribeFunc(bus, f, fn)
}

// AddMessagePreProcessor registers a processor run before every handler.
func AddMessagePreProcessor[P MessageProcessor](bus *MessageBus, factory func() P) error {
	return runtimepkg.AddMessagePreProcessor(bus, factory)
}

// AddMessagePostProcessor registers a processor run after every handler.
func AddMessagePostProcessor[P MessageProcessor](bus *MessageBus, factory func() P) error {
	return runtimepkg.AddMessagePostProcessor(bus, factory)
}

// ResolveProcessor returns the processor instance registered as P.
func ResolveProcessor[P MessageProcessor](bus *MessageBus) (P, error) {
	return runtimepkg.ResolveProcessor[P](bus)
}

// NewMessageHandlerMapping builds the admin-side mapping for a built filter.
func NewMessageHandlerMapping(messageType, handlerType string, f *BuiltFilter) (MessageHandlerMapping, error) {
	return filter.NewMessageHandlerMapping(messageType, handlerType, f)
}

// BuildFilter binds f to the message type T.
func BuildFilter[T any](f SubscriptionFilter, opts MessageBusOptions) (BuiltFilter, error) {
	return filter.BuildFor[T](f, opts)
}
