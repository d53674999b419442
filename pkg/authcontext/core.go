package authcontext

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/authchain/pkg/domain"
	"github.com/polisai/authchain/pkg/registry"
	"github.com/polisai/authchain/pkg/telemetry"
)

const (
	sideClient = "client"
	sideServer = "server"
)

// core is the state shared by client and server contexts. It is immutable
// after construction; chain runs keep their statuses on the stack.
type core[M domain.Module] struct {
	id             string
	side           string
	authContextID  string
	epoch          uint64
	slots          []registry.Slot[M]
	requestPolicy  *domain.MessagePolicy
	responsePolicy *domain.MessagePolicy
	handler        domain.CallbackHandler
	logger         *slog.Logger
	metrics        *telemetry.Metrics
}

type buildParams[M domain.Module] struct {
	side           string
	chain          *registry.Chain[M]
	requestPolicy  *domain.MessagePolicy
	responsePolicy *domain.MessagePolicy
	messageTypes   []domain.MessageType
	handler        domain.CallbackHandler
	props          map[string]any
	logger         *slog.Logger
	metrics        *telemetry.Metrics
}

// newCore checks and initializes every present module of the chain.
func newCore[M domain.Module](ctx context.Context, p buildParams[M]) (*core[M], error) {
	c := &core[M]{
		id:             uuid.NewString(),
		side:           p.side,
		authContextID:  p.chain.AuthContextID,
		epoch:          p.chain.Epoch,
		slots:          p.chain.Slots,
		requestPolicy:  p.requestPolicy,
		responsePolicy: p.responsePolicy,
		handler:        p.handler,
		logger:         p.logger,
		metrics:        p.metrics,
	}

	ctx, span := telemetry.StartChainSpan(ctx, c.side, "initialize", c.authContextID)
	telemetry.RecordPolicies(span, c.requestPolicy, c.responsePolicy)

	for i, slot := range c.slots {
		module, ok := slot.Module()
		if !ok {
			continue
		}
		if err := checkMessageTypes(slot.ID(), module, p.messageTypes); err != nil {
			telemetry.EndChainSpan(span, "", false, err)
			return nil, err
		}

		options := p.chain.InitProperties(i, p.props)
		span.SetAttributes(telemetry.OptionAttributes(fmt.Sprintf("module.%d.", i), options)...)
		if err := module.Initialize(ctx, c.requestPolicy, c.responsePolicy, c.handler, options); err != nil {
			err = fmt.Errorf("initialize module %q of auth context %q: %w", slot.ID(), c.authContextID, err)
			telemetry.EndChainSpan(span, "", false, err)
			return nil, err
		}
	}
	telemetry.EndChainSpan(span, "", false, nil)

	if p.chain.PresentCount() == 0 {
		c.logger.Warn("auth context has no modules",
			"side", c.side,
			"auth_context_id", c.authContextID,
			"configured", len(c.slots),
		)
	}

	c.logger.Debug("auth context created",
		"side", c.side,
		"context_id", c.id,
		"auth_context_id", c.authContextID,
		"epoch", c.epoch,
		"modules", p.chain.PresentCount(),
	)
	return c, nil
}

func checkMessageTypes(moduleID string, module domain.Module, required []domain.MessageType) error {
	supported := module.SupportedMessageTypes()
	for _, mt := range required {
		if !domain.SupportsMessageType(supported, mt) {
			return fmt.Errorf("module %q does not support %s: %w", moduleID, mt, domain.ErrUnsupportedMessageType)
		}
	}
	return nil
}

// run drives one validate/secure operation across the chain.
func (c *core[M]) run(ctx context.Context, op string, successSet domain.StatusSet, invoke func(context.Context, M) (domain.AuthStatus, error)) (domain.AuthStatus, error) {
	start := time.Now()
	ctx, span := telemetry.StartChainSpan(ctx, c.side, op, c.authContextID)

	statuses := make([]domain.AuthStatus, len(c.slots))
	last := len(c.slots) - 1
	skipped := 0

	for i, slot := range c.slots {
		module, ok := slot.Module()
		if !ok {
			skipped++
			continue
		}

		status, err := invoke(ctx, module)
		if err != nil {
			c.logger.Debug("auth module failed",
				"side", c.side,
				"operation", op,
				"auth_context_id", c.authContextID,
				"module_id", slot.ID(),
				"error", err,
			)
			c.record(ctx, op, "error", start, skipped, false, err)
			telemetry.EndChainSpan(span, "", false, err)
			return "", err
		}

		statuses[i] = status
		telemetry.RecordModuleOutcome(span, i, slot.ID(), status)
		if registry.ShouldStop(successSet, i, status) {
			last = i
			break
		}
	}

	result := registry.ReturnStatus(successSet, domain.SendFailure, statuses, last)
	failed := !successSet.Contains(result)
	c.record(ctx, op, string(result), start, skipped, failed, nil)
	telemetry.EndChainSpan(span, result, failed, nil)
	return result, nil
}

// clean calls CleanSubject on every present module. The first error stops the
// loop and is returned unchanged.
func (c *core[M]) clean(ctx context.Context, invoke func(context.Context, M) error) error {
	start := time.Now()
	ctx, span := telemetry.StartChainSpan(ctx, c.side, "clean_subject", c.authContextID)

	skipped := 0
	for _, slot := range c.slots {
		module, ok := slot.Module()
		if !ok {
			skipped++
			continue
		}
		if err := invoke(ctx, module); err != nil {
			c.record(ctx, "clean_subject", "error", start, skipped, false, err)
			telemetry.EndChainSpan(span, "", false, err)
			return err
		}
	}

	c.record(ctx, "clean_subject", "ok", start, skipped, false, nil)
	telemetry.EndChainSpan(span, "", false, nil)
	return nil
}

func (c *core[M]) record(ctx context.Context, op, status string, start time.Time, skipped int, failed bool, err error) {
	duration := time.Since(start)
	telemetry.RecordChainMetrics(ctx, telemetry.ChainMetrics{
		Side:          c.side,
		Operation:     op,
		AuthContextID: c.authContextID,
		Status:        status,
		Failed:        failed,
		Err:           err,
		Duration:      duration,
		Skipped:       skipped,
	})
	c.metrics.RecordChain(c.side, op, status, duration)
}

// ID returns the unique id of this context instance.
func (c *core[M]) ID() string { return c.id }

// AuthContextID returns the auth context id the context was built for.
func (c *core[M]) AuthContextID() string { return c.authContextID }

// Epoch returns the registry epoch the context was built under.
func (c *core[M]) Epoch() uint64 { return c.epoch }

// RequestPolicy returns the request policy handed to the modules.
func (c *core[M]) RequestPolicy() *domain.MessagePolicy { return c.requestPolicy }

// ResponsePolicy returns the response policy handed to the modules.
func (c *core[M]) ResponsePolicy() *domain.MessagePolicy { return c.responsePolicy }

// ModuleIDs returns the configured module ids in chain order, absent slots included.
func (c *core[M]) ModuleIDs() []string {
	ids := make([]string, len(c.slots))
	for i, s := range c.slots {
		ids[i] = s.ID()
	}
	return ids
}
