package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/provider"
	"github.com/25x8/digital-storefront/internal/storefront/repository"
)

// PollerConfig bounds status polling for provider orders
type PollerConfig struct {
	BaseDelay  time.Duration
	MaxRetries int
}

// StatusPoller handles check_provider_status jobs: it asks the provider how a
// top-up is going and drives the order to fulfilled or refunded.
type StatusPoller struct {
	repo       repository.Repository
	gateway    provider.Gateway
	finalizer  *Finalizer
	dispatcher *Dispatcher
	cfg        PollerConfig
}

var _ Handler = (*StatusPoller)(nil)

func NewStatusPoller(repo repository.Repository, gateway provider.Gateway, finalizer *Finalizer, dispatcher *Dispatcher, cfg PollerConfig) *StatusPoller {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	return &StatusPoller{repo: repo, gateway: gateway, finalizer: finalizer, dispatcher: dispatcher, cfg: cfg}
}

func (p *StatusPoller) Handle(ctx context.Context, job models.Job) Result {
	log := slog.With("order_id", job.OrderID, "attempt", job.Attempt)

	order, err := p.repo.GetOrder(ctx, job.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Error("order not found for status check")
		return Done()
	}
	if err != nil {
		return p.retry(job, fmt.Errorf("load order: %w", err))
	}
	if order.State.Terminal() {
		log.Info("order already has a final status, stopping")
		return Done()
	}
	if order.ProviderTransactionID == nil {
		return Fail(fmt.Errorf("order %d has no provider transaction", order.ID))
	}

	status, err := p.gateway.GetTransactionStatus(ctx, *order.ProviderTransactionID)
	if err != nil {
		log.Warn("provider status check failed", "error", err)
		return p.retry(job, err)
	}
	if status == nil {
		return Fail(errors.New("empty status response from provider"))
	}

	switch status.Status {
	case provider.StatusDone:
		tr, err := p.finalizer.Fulfill(ctx, order.ID)
		if err != nil {
			return p.retry(job, err)
		}
		p.dispatcher.Dispatch(ctx, tr)
		log.Info("provider order completed")
		return Done()
	case provider.StatusProcessing, provider.StatusTrxNotReady:
		return p.retry(job, fmt.Errorf("provider status %s", status.Status))
	case provider.StatusNoBalance:
		// Left pending until an operator rechecks or completes it.
		log.Warn("provider account has no balance, polling stopped", "trx_id", *order.ProviderTransactionID)
		return Done()
	default:
		return Fail(fmt.Errorf("order failed with provider status %q", status.Status))
	}
}

// retry schedules the next poll after BaseDelay*(attempt+1), or fails the job
// once the retry budget is spent.
func (p *StatusPoller) retry(job models.Job, cause error) Result {
	if job.Attempt >= p.cfg.MaxRetries {
		return Fail(fmt.Errorf("%w after %d attempts: %v", ErrMaxRetriesExceeded, job.Attempt, cause))
	}
	return Retry(p.cfg.BaseDelay*time.Duration(job.Attempt+1), cause)
}

// Fatal refunds the order if it is still pending.
func (p *StatusPoller) Fatal(ctx context.Context, job models.Job, cause error) error {
	tr, err := p.finalizer.Refund(ctx, job.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		slog.Error("could not fail order, not found", "order_id", job.OrderID)
		return nil
	}
	if err != nil {
		return err
	}
	if tr.Changed() {
		slog.Info("provider order refunded", "order_id", job.OrderID, "cause", cause)
	}
	p.dispatcher.Dispatch(ctx, tr)
	return nil
}
