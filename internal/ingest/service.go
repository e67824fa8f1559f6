// Package ingest runs the admission pipeline shared by the bulk HTTP
// gateway and the streaming channel: validate, drop-filter, persist,
// record.
package ingest

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"pulse-telemetry/internal/model"
	"pulse-telemetry/internal/outcome"
	"pulse-telemetry/internal/tenant"
)

// TelemetryStore is the bulk-insert collaborator. Insert writes items in
// order and stops at the first failure, returning how many rows were
// committed before it.
type TelemetryStore interface {
	Insert(ctx context.Context, tenantID string, channel model.Channel, items []model.Item) (int, error)
}

// Result summarizes one admitted submission.
type Result struct {
	Count   int // items persisted
	Dropped int // events discarded by the tenant's drop filter
}

// PersistError wraps a store failure, carrying how many rows of the batch
// were committed before it. Partial commits are surfaced, never hidden.
type PersistError struct {
	Committed int
	Err       error
}

func (e *PersistError) Error() string { return "persist batch: " + e.Err.Error() }
func (e *PersistError) Unwrap() error { return e.Err }

// Service is the admission pipeline. One instance serves every tenant;
// the only shared mutable state lives behind the recorder and settings
// store, both of which stripe by tenant.
type Service struct {
	store    TelemetryStore
	tenants  tenant.Store
	recorder outcome.Recorder
	log      *zap.Logger
}

// NewService wires the admission pipeline.
func NewService(store TelemetryStore, tenants tenant.Store, recorder outcome.Recorder, log *zap.Logger) *Service {
	if recorder == nil {
		recorder = outcome.Nop{}
	}
	return &Service{store: store, tenants: tenants, recorder: recorder, log: log}
}

// Admit validates the batch, applies the tenant's drop filter (events
// only), persists what survives, and records the outcome. Validation is
// all-or-nothing: a single bad item rejects the batch before anything is
// written.
func (s *Service) Admit(ctx context.Context, t tenant.Tenant, transport string, channel model.Channel, items []model.Item) (Result, error) {
	if err := model.ValidateBatch(channel, items); err != nil {
		s.recorder.Record(outcome.Outcome{
			TenantID:  t.ID,
			Channel:   string(channel),
			Transport: transport,
			Verdict:   outcome.VerdictRejected,
		})
		return Result{}, err
	}

	dropped := 0
	if channel == model.ChannelEvents {
		cfg, err := s.tenants.FilterConfig(ctx, t.ID)
		if err != nil {
			// a broken settings backend must not reject telemetry;
			// admit unfiltered and log
			s.log.Warn("load drop filter config", zap.String("tenant", t.ID), zap.Error(err))
		} else if cfg.Enabled {
			kept := items[:0:len(items)]
			for _, it := range items {
				if cfg.ShouldDrop(it) {
					dropped++
					continue
				}
				kept = append(kept, it)
			}
			items = kept
		}
	}

	committed, err := s.store.Insert(ctx, t.ID, channel, items)
	if err != nil {
		s.recorder.Record(outcome.Outcome{
			TenantID:  t.ID,
			Channel:   string(channel),
			Transport: transport,
			Verdict:   outcome.VerdictPersistError,
			Admitted:  committed,
			Dropped:   dropped,
		})
		return Result{}, &PersistError{Committed: committed, Err: err}
	}

	s.recorder.Record(outcome.Outcome{
		TenantID:  t.ID,
		Channel:   string(channel),
		Transport: transport,
		Verdict:   outcome.VerdictAdmitted,
		Admitted:  committed,
		Dropped:   dropped,
	})
	return Result{Count: committed, Dropped: dropped}, nil
}

// RecordRateLimited reports a throttled submission to the recorder on
// behalf of the transport layer.
func (s *Service) RecordRateLimited(tenantID, transport string) {
	s.recorder.Record(outcome.Outcome{
		TenantID:  tenantID,
		Transport: transport,
		Verdict:   outcome.VerdictRateLimited,
	})
}

// IsValidation reports whether err is a batch validation failure.
func IsValidation(err error) (*model.ValidationError, bool) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
