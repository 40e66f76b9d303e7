package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nivenlabs/subflow-backend/api/responses"
	"github.com/nivenlabs/subflow-backend/pkg/db/models"
	pkgerrors "github.com/nivenlabs/subflow-backend/pkg/errors"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
)

type PackageCatalog interface {
	ListPackages(ctx context.Context) ([]models.Package, error)
}

type packageResponse struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	PriceAmount  decimal.Decimal `json:"price_amount"`
	CurrencyCode string          `json:"currency_code"`
	Interval     string          `json:"interval"`
	Features     []string        `json:"features"`
}

// ListPackages serves the public plan catalog.
func ListPackages(svc PackageCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		packages, err := svc.ListPackages(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]packageResponse, 0, len(packages))
		for i := range packages {
			out = append(out, newPackageResponse(&packages[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func newPackageResponse(pkg *models.Package) packageResponse {
	features := make([]string, 0, len(pkg.Features))
	features = append(features, pkg.Features...)
	return packageResponse{
		ID:           pkg.ID,
		Name:         pkg.Name,
		PriceAmount:  pkg.PriceAmount,
		CurrencyCode: pkg.CurrencyCode,
		Interval:     string(pkg.Interval),
		Features:     features,
	}
}
