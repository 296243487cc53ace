package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/parking-reservation/internal/cache"
	apperrors "github.com/iliyamo/parking-reservation/internal/errors"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// ListLots returns every lot with its availability counts.  The listing is
// served from the cache when present.
func (s *AllocationService) ListLots(ctx context.Context) ([]model.LotAvailability, error) {
	var lots []model.LotAvailability
	if s.cached(ctx, cache.LotsKey, &lots) {
		return lots, nil
	}
	lots, err := s.lots.ListWithAvailability(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "list lots failed")
	}
	if lots == nil {
		lots = []model.LotAvailability{}
	}
	s.fill(ctx, cache.LotsKey, lots, s.lotsTTL)
	return lots, nil
}

// SearchLots filters the lot listing by a case-insensitive match on name,
// address or postal code.  onlyAvailable drops lots without a free spot.
func (s *AllocationService) SearchLots(ctx context.Context, query string, onlyAvailable bool) ([]model.LotAvailability, error) {
	lots, err := s.ListLots(ctx)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]model.LotAvailability, 0, len(lots))
	for _, l := range lots {
		if onlyAvailable && l.Available == 0 {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(l.Name), query) &&
			!strings.Contains(strings.ToLower(l.Address), query) &&
			!strings.Contains(strings.ToLower(l.PostalCode), query) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// GetLot returns one lot.
func (s *AllocationService) GetLot(ctx context.Context, lotID uint64) (*model.Lot, error) {
	lot, err := s.lots.Get(ctx, lotID)
	if err != nil {
		return nil, s.readErr(err, "lot not found")
	}
	return lot, nil
}

// ListSpots returns the spots of a lot ordered by number.
func (s *AllocationService) ListSpots(ctx context.Context, lotID uint64) ([]model.Spot, error) {
	var spots []model.Spot
	key := cache.SpotsKey(lotID)
	if s.cached(ctx, key, &spots) {
		return spots, nil
	}
	if _, err := s.lots.Get(ctx, lotID); err != nil {
		return nil, s.readErr(err, "lot not found")
	}
	spots, err := s.spots.ListByLot(ctx, lotID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "list spots failed")
	}
	if spots == nil {
		spots = []model.Spot{}
	}
	s.fill(ctx, key, spots, s.spotsTTL)
	return spots, nil
}

// ListUserReservations returns the user's reservation history, newest first.
func (s *AllocationService) ListUserReservations(ctx context.Context, userID uint64) ([]model.Reservation, error) {
	out, err := s.reservations.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "list reservations failed")
	}
	if out == nil {
		out = []model.Reservation{}
	}
	return out, nil
}

// ActiveReservation returns the user's active reservation or NOT_FOUND.
func (s *AllocationService) ActiveReservation(ctx context.Context, userID uint64) (*model.Reservation, error) {
	res, err := s.reservations.ActiveForUser(ctx, userID)
	if err != nil {
		return nil, s.readErr(err, "no active reservation")
	}
	return res, nil
}

// Summary returns the admin dashboard counts.
func (s *AllocationService) Summary(ctx context.Context) (repository.Counts, error) {
	c, err := s.lots.Counts(ctx)
	if err != nil {
		return repository.Counts{}, apperrors.Wrap(apperrors.CodeInternal, err, "summary failed")
	}
	return c, nil
}

func (s *AllocationService) cached(ctx context.Context, key string, dst any) bool {
	raw, ok := s.cache.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logg.WarnErr(s.logg.WithField(ctx, "key", key), "dropping undecodable cache entry", err)
		s.cache.Invalidate(ctx, key)
		return false
	}
	return true
}

func (s *AllocationService) fill(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.cache.Set(ctx, key, raw, ttl)
}

func (s *AllocationService) readErr(err error, msg string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.New(apperrors.CodeNotFound, msg)
	}
	return apperrors.Wrap(apperrors.CodeInternal, err, "store read failed")
}
