// Package service implements the allocation engine: reserving and releasing
// spots, resizing and removing lots, and the cached availability reads.
// Every state change runs as one store transaction; the availability cache
// is invalidated only after that transaction commits.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-reservation/internal/cache"
	"github.com/iliyamo/parking-reservation/internal/config"
	"github.com/iliyamo/parking-reservation/internal/database"
	apperrors "github.com/iliyamo/parking-reservation/internal/errors"
	"github.com/iliyamo/parking-reservation/internal/logger"
	"github.com/iliyamo/parking-reservation/internal/metrics"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/pricing"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

const (
	defaultBaseBackoff  = 25 * time.Millisecond
	invalidationTimeout = 2 * time.Second
)

// AllocationParams configure the allocation engine.
type AllocationParams struct {
	Store   *repository.Store
	Cache   cache.Cache
	Logger  *logger.Logger
	Metrics *metrics.AllocationMetrics
	Retry   config.EngineConfig
	// LotsTTL and SpotsTTL bound how long listings stay cached.
	LotsTTL  time.Duration
	SpotsTTL time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// AllocationService owns the one-active-reservation-per-spot and
// one-active-reservation-per-user invariants.  Callers pass an already
// authorized user id.
type AllocationService struct {
	store        *repository.Store
	lots         *repository.LotRepo
	spots        *repository.SpotRepo
	reservations *repository.ReservationRepo
	users        *repository.UserRepo
	cache        cache.Cache
	logg         *logger.Logger
	metrics      *metrics.AllocationMetrics
	retry        config.EngineConfig
	lotsTTL      time.Duration
	spotsTTL     time.Duration
	clock        func() time.Time
}

// NewAllocationService builds the engine.
func NewAllocationService(p AllocationParams) (*AllocationService, error) {
	if p.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if p.Cache == nil {
		p.Cache = cache.Noop{}
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Retry.MaxAttempts <= 0 {
		p.Retry.MaxAttempts = 1
	}
	if p.Retry.BaseBackoff <= 0 {
		p.Retry.BaseBackoff = defaultBaseBackoff
	}
	if p.LotsTTL <= 0 {
		p.LotsTTL = 60 * time.Second
	}
	if p.SpotsTTL <= 0 {
		p.SpotsTTL = 30 * time.Second
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	db, dialect := p.Store.DB(), p.Store.Dialect()
	return &AllocationService{
		store:        p.Store,
		lots:         repository.NewLotRepo(db, dialect),
		spots:        repository.NewSpotRepo(db, dialect),
		reservations: repository.NewReservationRepo(db, dialect),
		users:        repository.NewUserRepo(db, dialect),
		cache:        p.Cache,
		logg:         p.Logger,
		metrics:      p.Metrics,
		retry:        p.Retry,
		lotsTTL:      p.LotsTTL,
		spotsTTL:     p.SpotsTTL,
		clock:        p.Clock,
	}, nil
}

// Receipt is returned by Release.
type Receipt struct {
	Reservation   model.Reservation `json:"reservation"`
	Cost          decimal.Decimal   `json:"cost"`
	BilledHours   decimal.Decimal   `json:"billed_hours"`
	Duration      time.Duration     `json:"-"`
	DurationHours decimal.Decimal   `json:"duration_hours"`
}

// LotInput carries the attributes of a new or edited lot.
type LotInput struct {
	Name       string
	Address    string
	PostalCode string
	HourlyRate decimal.Decimal
	Capacity   int
}

func (in LotInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return apperrors.New(apperrors.CodeValidation, "lot name is required")
	case in.HourlyRate.IsNegative():
		return apperrors.New(apperrors.CodeValidation, "hourly rate must not be negative")
	case in.Capacity < 0:
		return apperrors.New(apperrors.CodeValidation, "capacity must not be negative")
	}
	return nil
}

func (in LotInput) fields() repository.LotFields {
	return repository.LotFields{
		Name:       strings.TrimSpace(in.Name),
		Address:    strings.TrimSpace(in.Address),
		PostalCode: strings.TrimSpace(in.PostalCode),
		HourlyRate: in.HourlyRate,
	}
}

// Reserve claims the lowest-id Available spot of the lot for the user.
func (s *AllocationService) Reserve(ctx context.Context, userID, lotID uint64) (*model.Reservation, error) {
	var created *model.Reservation
	err := s.inTx(ctx, "reserve", func(tx *sql.Tx) error {
		if _, err := s.users.LockTx(ctx, tx, userID); err != nil {
			return notFound(err, "user %d not found", userID)
		}
		if _, err := s.reservations.ActiveForUserTx(ctx, tx, userID); err == nil {
			return apperrors.New(apperrors.CodeUserAlreadyActive, "user already has an active reservation")
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if _, err := s.lots.GetTx(ctx, tx, lotID); err != nil {
			return notFound(err, "lot %d not found", lotID)
		}
		spot, err := s.spots.FirstAvailableTx(ctx, tx, lotID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.Newf(apperrors.CodeLotExhausted, "lot %d has no available spots", lotID)
		}
		if err != nil {
			return err
		}
		if err := s.spots.SetStatusTx(ctx, tx, spot.ID, model.SpotAvailable, model.SpotOccupied); err != nil {
			return err
		}
		spot.Status = model.SpotOccupied
		created, err = s.reservations.CreateTx(ctx, tx, *spot, userID, s.now())
		return err
	})
	s.record("reserve", err)
	if err != nil {
		return nil, err
	}
	s.invalidateAvailability(ctx)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"user_id": userID, "lot_id": lotID, "spot_id": created.SpotID, "reservation_id": created.ID,
	}), "spot reserved")
	return created, nil
}

// Release ends the user's active reservation, charges it and frees the spot.
func (s *AllocationService) Release(ctx context.Context, userID, reservationID uint64) (*Receipt, error) {
	var receipt *Receipt
	err := s.inTx(ctx, "release", func(tx *sql.Tx) error {
		res, err := s.reservations.GetForUserTx(ctx, tx, userID, reservationID)
		if err != nil {
			return notFound(err, "reservation %d not found", reservationID)
		}
		if !res.Active() {
			return apperrors.Newf(apperrors.CodeNotFound, "reservation %d already released", reservationID)
		}
		lot, err := s.lots.GetTx(ctx, tx, res.LotID)
		if err != nil {
			return fmt.Errorf("lot of active reservation %d: %w", res.ID, err)
		}
		end := s.now()
		quote := pricing.Price(res.StartedAt, end, lot.HourlyRate)
		if err := s.reservations.CompleteTx(ctx, tx, res.ID, end, quote.Cost); err != nil {
			return err
		}
		if err := s.spots.SetStatusTx(ctx, tx, res.SpotID, model.SpotOccupied, model.SpotAvailable); err != nil {
			return err
		}
		res.EndedAt = null.TimeFrom(end)
		res.Cost = quote.Cost
		receipt = &Receipt{
			Reservation:   *res,
			Cost:          quote.Cost,
			BilledHours:   quote.BilledHours,
			Duration:      quote.Elapsed,
			DurationHours: pricing.ElapsedHours(quote.Elapsed).Round(2),
		}
		return nil
	})
	s.record("release", err)
	if err != nil {
		return nil, err
	}
	s.invalidateAvailability(ctx)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"user_id": userID, "reservation_id": reservationID, "cost": receipt.Cost.StringFixed(2),
	}), "spot released")
	return receipt, nil
}

// SetCapacity grows or shrinks the lot to exactly capacity spots.  Only
// Available spots are ever removed.
func (s *AllocationService) SetCapacity(ctx context.Context, lotID uint64, capacity int) (*model.Lot, error) {
	if capacity < 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "capacity must not be negative")
	}
	var lot *model.Lot
	err := s.inTx(ctx, "set_capacity", func(tx *sql.Tx) error {
		var err error
		lot, err = s.lots.LockTx(ctx, tx, lotID)
		if err != nil {
			return notFound(err, "lot %d not found", lotID)
		}
		return s.resizeTx(ctx, tx, lot, capacity)
	})
	s.record("set_capacity", err)
	if err != nil {
		return nil, err
	}
	s.invalidateAvailability(ctx)
	return lot, nil
}

// RemoveLot deletes an unoccupied lot and its spots.  Reservation history
// is kept.
func (s *AllocationService) RemoveLot(ctx context.Context, lotID uint64) error {
	err := s.inTx(ctx, "remove_lot", func(tx *sql.Tx) error {
		if _, err := s.lots.LockTx(ctx, tx, lotID); err != nil {
			return notFound(err, "lot %d not found", lotID)
		}
		spots, err := s.spots.LockByLotTx(ctx, tx, lotID)
		if err != nil {
			return err
		}
		occupied := 0
		for _, sp := range spots {
			if sp.Status == model.SpotOccupied {
				occupied++
			}
		}
		if occupied > 0 {
			return apperrors.Newf(apperrors.CodeLotOccupied, "lot %d has %d occupied spots", lotID, occupied)
		}
		if _, err := s.spots.DeleteByLotTx(ctx, tx, lotID); err != nil {
			return err
		}
		return s.lots.DeleteTx(ctx, tx, lotID)
	})
	s.record("remove_lot", err)
	if err != nil {
		return err
	}
	s.invalidateAvailability(ctx)
	return nil
}

// CreateLot inserts a lot together with its initial spots.
func (s *AllocationService) CreateLot(ctx context.Context, in LotInput) (*model.Lot, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var lot *model.Lot
	err := s.inTx(ctx, "create_lot", func(tx *sql.Tx) error {
		var err error
		lot, err = s.lots.CreateTx(ctx, tx, in.fields())
		if err != nil {
			return err
		}
		return s.resizeTx(ctx, tx, lot, in.Capacity)
	})
	s.record("create_lot", err)
	if err != nil {
		return nil, err
	}
	s.invalidateAvailability(ctx)
	return lot, nil
}

// UpdateLot edits the lot's details and resizes it under the same rules
// as SetCapacity.
func (s *AllocationService) UpdateLot(ctx context.Context, lotID uint64, in LotInput) (*model.Lot, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var lot *model.Lot
	err := s.inTx(ctx, "update_lot", func(tx *sql.Tx) error {
		var err error
		lot, err = s.lots.LockTx(ctx, tx, lotID)
		if err != nil {
			return notFound(err, "lot %d not found", lotID)
		}
		f := in.fields()
		if err := s.lots.UpdateDetailsTx(ctx, tx, lotID, f); err != nil {
			return err
		}
		lot.Name, lot.Address, lot.PostalCode, lot.HourlyRate = f.Name, f.Address, f.PostalCode, f.HourlyRate
		return s.resizeTx(ctx, tx, lot, in.Capacity)
	})
	s.record("update_lot", err)
	if err != nil {
		return nil, err
	}
	s.invalidateAvailability(ctx)
	return lot, nil
}

// resizeTx makes the lot own exactly target spots.  New spots are numbered
// after the current highest number; removal takes the highest-numbered
// Available spots.  A lot with occupied spots cannot shrink to the point of
// having no free spot left.
func (s *AllocationService) resizeTx(ctx context.Context, tx *sql.Tx, lot *model.Lot, target int) error {
	spots, err := s.spots.LockByLotTx(ctx, tx, lot.ID)
	if err != nil {
		return err
	}
	current := len(spots)
	switch {
	case target > current:
		if err := s.spots.AddTx(ctx, tx, lot.ID, target-current); err != nil {
			return err
		}
	case target < current:
		remove := current - target
		occupied := 0
		ids := make([]uint64, 0, remove)
		for i := len(spots) - 1; i >= 0; i-- {
			if spots[i].Status != model.SpotAvailable {
				occupied++
				continue
			}
			if len(ids) < remove {
				ids = append(ids, spots[i].ID)
			}
		}
		if len(ids) < remove {
			return apperrors.Newf(apperrors.CodeCapacityConflict,
				"cannot remove %d spots from lot %d: only %d are available", remove, lot.ID, len(ids))
		}
		if occupied > 0 && target <= occupied {
			return apperrors.Newf(apperrors.CodeCapacityConflict,
				"lot %d has %d occupied spots and must keep a free spot", lot.ID, occupied)
		}
		if err := s.spots.DeleteAvailableTx(ctx, tx, ids); err != nil {
			return err
		}
	}
	if err := s.lots.SetCapacityTx(ctx, tx, lot.ID, target); err != nil {
		return err
	}
	lot.Capacity = target
	return nil
}

// inTx runs fn in a transaction, retrying transient store failures with
// exponential backoff.  Exhausted retries surface as DEPENDENCY_ERROR.
func (s *AllocationService) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	b := retry.NewExponential(s.retry.BaseBackoff)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithMaxRetries(uint64(s.retry.MaxAttempts-1), b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.metrics.IncRetry(op)
		}
		err := s.store.WithTx(ctx, fn)
		if retryable(err) {
			s.logg.WarnErr(s.logg.WithFields(ctx, map[string]any{"op": op, "attempt": attempt}), "store transaction will be retried", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if retryable(err) {
		return apperrors.Wrap(apperrors.CodeDependency, err, op+": store unavailable")
	}
	if err != nil && apperrors.As(err) == nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.CodeInternal, err, op+" failed")
	}
	return err
}

// retryable covers driver level transient errors plus lost races on a
// conditional write or an active-reservation unique index.
func retryable(err error) bool {
	return err != nil && (database.IsTransient(err) ||
		errors.Is(err, repository.ErrConflict) ||
		database.IsUniqueViolation(err))
}

// invalidateAvailability drops the lots and spots namespaces.  It runs after
// commit and survives cancellation of the caller's context.
func (s *AllocationService) invalidateAvailability(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidationTimeout)
	defer cancel()
	s.cache.InvalidatePrefix(ctx, cache.LotsNamespace)
	s.cache.InvalidatePrefix(ctx, cache.SpotsNamespace)
}

func (s *AllocationService) record(op string, err error) {
	if err == nil {
		s.metrics.IncOp(op, "ok")
		return
	}
	s.metrics.IncOp(op, string(apperrors.CodeOf(err)))
}

// now is truncated to microseconds, the precision of DATETIME(6).
func (s *AllocationService) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.Newf(apperrors.CodeNotFound, format, args...)
	}
	return err
}
