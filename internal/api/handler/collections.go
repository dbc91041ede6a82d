package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/collection-watch/internal/api/respond"
	"github.com/albapepper/collection-watch/internal/cache"
	"github.com/albapepper/collection-watch/internal/collection"
)

var (
	errNotFound  = errors.New("not found")
	errNoHistory = errors.New("history disabled")
)

type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func writeBuildError(w http.ResponseWriter, err error) {
	var br badRequest
	switch {
	case errors.As(err, &br):
		respond.Error(w, http.StatusBadRequest, "BAD_REQUEST", br.msg)
	case errors.Is(err, errNotFound):
		respond.Error(w, http.StatusNotFound, "NOT_FOUND", "Collection not found")
	case errors.Is(err, errNoHistory):
		respond.Error(w, http.StatusNotImplemented, "HISTORY_DISABLED", "Chart history is not configured")
	default:
		respond.ErrorDetail(w, http.StatusInternalServerError, "INTERNAL", "Request failed", err.Error())
	}
}

// CollectionView is a stored collection with its optional lowest listing.
type CollectionView struct {
	collection.Record
	Lowest *collection.NFT `json:"lowestListing,omitempty"`
}

// ListCollections returns stored collections, optionally for one partition.
// @Summary List collections
// @Tags collections
// @Produce json
// @Param partition query string false "Partition" Enums(regular, partner, snowball)
// @Success 200 {array} collection.Record
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/v1/collections [get]
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	var p collection.Partition
	if raw := r.URL.Query().Get("partition"); raw != "" {
		parsed, err := collection.ParsePartition(raw)
		if err != nil {
			writeBuildError(w, badRequest{err.Error()})
			return
		}
		p = parsed
	}
	h.cached(w, r, cache.CollectionsKey(p), cache.TTLLive, func() (any, error) {
		var records []collection.Record
		if p == "" {
			records = h.Store.All()
		} else {
			records = h.Store.Partition(p)
		}
		if records == nil {
			records = []collection.Record{}
		}
		return records, nil
	})
}

// GetCollection returns one collection by slug.
// @Summary Get collection
// @Tags collections
// @Produce json
// @Param slug path string true "Collection slug"
// @Success 200 {object} CollectionView
// @Failure 404 {object} respond.ErrorResponse
// @Router /api/v1/collections/{slug} [get]
func (h *Handler) GetCollection(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	h.cached(w, r, cache.CollectionKey(slug), cache.TTLLive, func() (any, error) {
		rec, ok := h.Store.BySlug(slug)
		if !ok {
			return nil, errNotFound
		}
		view := CollectionView{Record: rec}
		if h.Prices != nil {
			if nft, ok := h.Prices.Lowest(rec.ID); ok {
				view.Lowest = &nft
			}
		}
		return view, nil
	})
}

// GetHistory returns the stored daily series of a collection.
// @Summary Collection chart history
// @Tags collections
// @Produce json
// @Param slug path string true "Collection slug"
// @Success 200 {array} collection.RevenuePoint
// @Failure 404 {object} respond.ErrorResponse
// @Failure 501 {object} respond.ErrorResponse
// @Router /api/v1/collections/{slug}/history [get]
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	h.cached(w, r, cache.HistoryKey(slug), cache.TTLHistory, func() (any, error) {
		if h.History == nil {
			return nil, errNoHistory
		}
		if _, ok := h.Store.BySlug(slug); !ok {
			return nil, errNotFound
		}
		points, err := h.History.Series(r.Context(), slug)
		if err != nil {
			return nil, err
		}
		if points == nil {
			points = []collection.RevenuePoint{}
		}
		return points, nil
	})
}
