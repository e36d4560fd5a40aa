package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/mohacollection/storefront-backend/internal/payments"
	"github.com/mohacollection/storefront-backend/pkg/db/models"
	"github.com/mohacollection/storefront-backend/pkg/enums"
	"github.com/mohacollection/storefront-backend/pkg/logger"
	"github.com/mohacollection/storefront-backend/pkg/mpesa"
)

const (
	defaultStaleAfter  = 2 * time.Minute
	defaultExpireAfter = 24 * time.Hour
	defaultSweepBatch  = 50
)

type stalePaymentEngine interface {
	ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]models.PaymentTransaction, error)
	ReconcileQuery(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResponse, *payments.Outcome, error)
	ExpireStale(ctx context.Context, checkoutRequestID string) (*payments.Outcome, error)
}

type StalePaymentJobParams struct {
	Logger      *logger.Logger
	Payments    stalePaymentEngine
	StaleAfter  time.Duration
	ExpireAfter time.Duration
	BatchSize   int
}

func NewStalePaymentJob(params StalePaymentJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment engine required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	expireAfter := params.ExpireAfter
	if expireAfter <= 0 {
		expireAfter = defaultExpireAfter
	}
	if expireAfter < staleAfter {
		expireAfter = staleAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &stalePaymentJob{
		logg:        params.Logger,
		payments:    params.Payments,
		staleAfter:  staleAfter,
		expireAfter: expireAfter,
		batch:       batch,
		now:         time.Now,
	}, nil
}

type stalePaymentJob struct {
	logg        *logger.Logger
	payments    stalePaymentEngine
	staleAfter  time.Duration
	expireAfter time.Duration
	batch       int
	now         func() time.Time
}

func (j *stalePaymentJob) Name() string { return "stale_payment_reconcile" }

// Run polls the gateway for every pending transaction older than the stale
// threshold. Transactions past the expiry threshold that are still unresolved
// are cancelled. Failures on one transaction never stop the batch.
func (j *stalePaymentJob) Run(ctx context.Context) error {
	rows, err := j.payments.ListStale(ctx, j.staleAfter, j.batch)
	if err != nil {
		return fmt.Errorf("list stale payments: %w", err)
	}

	var (
		errs     error
		settled  int
		expired  int
		unsolved int
	)
	now := j.now().UTC()
	for _, row := range rows {
		logCtx := j.logg.WithCheckoutRequestID(ctx, row.CheckoutRequestID)
		expirable := now.Sub(row.CreatedAt.UTC()) >= j.expireAfter

		_, outcome, qerr := j.payments.ReconcileQuery(logCtx, row.CheckoutRequestID)
		if qerr == nil && outcome != nil && outcome.Status != enums.TransactionStatusPending {
			settled++
			continue
		}
		if !expirable {
			if qerr != nil {
				errs = multierr.Append(errs, fmt.Errorf("query %s: %w", row.CheckoutRequestID, qerr))
			}
			unsolved++
			continue
		}
		if qerr != nil {
			j.logg.Warn(logCtx, "gateway query failed for expired payment; cancelling")
		}
		if _, err := j.payments.ExpireStale(logCtx, row.CheckoutRequestID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", row.CheckoutRequestID, err))
			continue
		}
		expired++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":       len(rows),
		"settled":       settled,
		"expired":       expired,
		"still_pending": unsolved,
	})
	j.logg.Info(logCtx, "stale payment sweep complete")
	return errs
}
