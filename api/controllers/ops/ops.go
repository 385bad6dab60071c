// Package ops hosts the operator maintenance surface: batch sweeps that are
// normally cron-driven but can be triggered by hand. Routes sit behind the
// operator guard, not tenant auth.
package ops

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/atlasops/atlasops-backend/api/responses"
	"github.com/atlasops/atlasops-backend/api/validators"
	creditsvc "github.com/atlasops/atlasops-backend/internal/credit"
	subsvc "github.com/atlasops/atlasops-backend/internal/subscriptions"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/logger"
)

// Reconciler sweeps stale credit reservations.
type Reconciler interface {
	ReconcileExpired(ctx context.Context, input creditsvc.ReconcileInput) (*creditsvc.ReconcileResult, error)
}

// Refiller sweeps due subscription refills.
type Refiller interface {
	ProcessDueRefills(ctx context.Context, input subsvc.ProcessInput) (*subsvc.ProcessResult, error)
}

type reconcileRequest struct {
	Limit            int `json:"limit" validate:"omitempty,min=1,max=1000"`
	OlderThanSeconds int `json:"older_than_seconds" validate:"omitempty,min=1"`
}

type reconcileResponse struct {
	Scanned int      `json:"scanned"`
	Expired []string `json:"expired"`
}

type processRequest struct {
	Limit  int  `json:"limit" validate:"omitempty,min=1,max=1000"`
	DryRun bool `json:"dry_run"`
}

type processResponse struct {
	Due      int      `json:"due"`
	Pending  []string `json:"pending,omitempty"`
	Refilled []string `json:"refilled,omitempty"`
	DryRun   bool     `json:"dry_run"`
}

// ReconcileCredits expires stale active reservations. An empty body runs
// with the service defaults.
func ReconcileCredits(svc Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}

		var payload reconcileRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		result, err := svc.ReconcileExpired(ctx, creditsvc.ReconcileInput{
			Limit:     payload.Limit,
			OlderThan: time.Duration(payload.OlderThanSeconds) * time.Second,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logCtx := logg.WithFields(ctx, map[string]any{
				"scanned": result.Scanned,
				"expired": len(result.Expired),
			})
			logg.Info(logCtx, "credit reconcile sweep finished")
		}
		responses.WriteSuccess(w, reconcileResponse{
			Scanned: result.Scanned,
			Expired: idStrings(result.Expired),
		})
	}
}

// ProcessRefills applies due subscription refills, or reports the candidate
// set when dry_run is set.
func ProcessRefills(svc Refiller, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		var payload processRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		result, err := svc.ProcessDueRefills(ctx, subsvc.ProcessInput{
			Limit:  payload.Limit,
			DryRun: payload.DryRun,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logCtx := logg.WithFields(ctx, map[string]any{
				"due":      result.Due,
				"refilled": len(result.Refilled),
				"dry_run":  payload.DryRun,
			})
			logg.Info(logCtx, "refill sweep finished")
		}
		responses.WriteSuccess(w, processResponse{
			Due:      result.Due,
			Pending:  idStrings(result.Pending),
			Refilled: idStrings(result.Refilled),
			DryRun:   payload.DryRun,
		})
	}
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
