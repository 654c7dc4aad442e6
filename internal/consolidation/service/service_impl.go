package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reminder/internal/clock"
	"github.com/smallbiznis/reminder/internal/companycontext"
	"github.com/smallbiznis/reminder/internal/config"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
	"github.com/smallbiznis/reminder/internal/observability/metrics"
	"github.com/smallbiznis/reminder/pkg/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tracerName = "reminder/consolidation"

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	ConfigHolder *config.ConsolidationConfigHolder

	Invoices   domain.InvoiceStore
	Directory  domain.CustomerDirectory
	History    domain.ContactHistory
	Repo       domain.ReminderRepository
	Calendar   domain.BusinessCalendar
	Dispatcher domain.EmailDispatcher
	Renderer   domain.TemplateRenderer
	Converter  domain.CurrencyConverter
	Quota      domain.SendQuota

	Metrics     *metrics.ConsolidationMetrics `optional:"true"`
	OtelMetrics *metrics.Metrics              `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	cfg    *config.ConsolidationConfigHolder
	tracer trace.Tracer

	invoices   domain.InvoiceStore
	directory  domain.CustomerDirectory
	history    domain.ContactHistory
	repo       domain.ReminderRepository
	calendar   domain.BusinessCalendar
	dispatcher domain.EmailDispatcher
	renderer   domain.TemplateRenderer
	converter  domain.CurrencyConverter
	quota      domain.SendQuota

	metrics     *metrics.ConsolidationMetrics
	otelMetrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return newService(p)
}

func newService(p Params) *Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("consolidation.service"),
		genID:  p.GenID,
		clock:  c,
		cfg:    p.ConfigHolder,
		tracer: otel.Tracer(tracerName),

		invoices:   p.Invoices,
		directory:  p.Directory,
		history:    p.History,
		repo:       p.Repo,
		calendar:   p.Calendar,
		dispatcher: p.Dispatcher,
		renderer:   p.Renderer,
		converter:  p.Converter,
		quota:      p.Quota,

		metrics:     p.Metrics,
		otelMetrics: p.OtelMetrics,
	}
}

func (s *Service) companyIDFromContext(ctx context.Context) (snowflake.ID, error) {
	companyID, ok := companycontext.CompanyIDFromContext(ctx)
	if !ok || companyID == 0 {
		return 0, domain.ErrInvalidCompany
	}
	return companyID, nil
}

// loadCompany returns the company settings; a missing company is ErrInvalidCompany.
func (s *Service) loadCompany(ctx context.Context, companyID snowflake.ID) (*domain.CompanySettings, error) {
	if companyID == 0 {
		return nil, domain.ErrInvalidCompany
	}
	company, err := callCollaborator(ctx, s, "customer_directory", func(ctx context.Context) (*domain.CompanySettings, error) {
		return s.directory.GetCompany(ctx, companyID)
	})
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, domain.ErrInvalidCompany
	}
	return company, nil
}

func (s *Service) rules(company *domain.CompanySettings) domain.Rules {
	return RulesFromConfig(s.cfg.Get()).WithCompany(company)
}

func (s *Service) retryPolicy(collaborator string) retry.Policy {
	cfg := s.cfg.Get().Retry
	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = uint(cfg.MaxAttempts)
	}
	if cfg.BaseDelay > 0 {
		policy.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		policy.MaxDelay = cfg.MaxDelay
	}
	return policy.WithNotify(func(err error, wait time.Duration) {
		s.metrics.IncCollaboratorRetry(collaborator)
		s.log.Warn("consolidation.collaborator.retry",
			zap.String("collaborator", collaborator),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}

// callCollaborator runs op under the shared retry policy. Exhausted retries
// surface as ErrCollaboratorUnavailable; context and domain errors pass through.
func callCollaborator[T any](ctx context.Context, s *Service, collaborator string, op func(ctx context.Context) (T, error)) (T, error) {
	value, err := retry.Value(ctx, s.retryPolicy(collaborator), func(ctx context.Context) (T, error) {
		value, err := op(ctx)
		if err != nil && isPermanent(err) {
			return value, retry.Permanent(err)
		}
		return value, err
	})
	if err == nil {
		return value, nil
	}
	if isContextErr(err) || isPermanent(err) {
		return value, err
	}
	return value, fmt.Errorf("%w: %s: %v", domain.ErrCollaboratorUnavailable, collaborator, err)
}

func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrInvalidID) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrNoValidSlot) ||
		errors.Is(err, domain.ErrCollaboratorUnavailable)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
