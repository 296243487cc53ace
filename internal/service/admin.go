package service

import (
	"context"
	"strconv"
	"strings"

	apperrors "github.com/iliyamo/parking-reservation/internal/errors"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// Search scopes accepted by AdminSearch.
const (
	ScopeAll   = "all"
	ScopeLots  = "lots"
	ScopeUsers = "users"
	ScopeSpots = "spots"
)

// SearchResult groups admin search matches by kind.  Kinds outside the
// requested scope stay empty.
type SearchResult struct {
	Lots  []model.LotAvailability `json:"lots"`
	Users []model.UserOverview    `json:"users"`
	Spots []model.SpotDetail      `json:"spots"`
}

// ListUsers returns every USER account with its current spot.
func (s *AllocationService) ListUsers(ctx context.Context) ([]model.UserOverview, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "list users failed")
	}
	if users == nil {
		users = []model.UserOverview{}
	}
	return users, nil
}

// AdminSearch matches query against lots (name, address, postal code),
// users (name, email, id) and spots (number, id).  Text matches ignore
// case.
func (s *AllocationService) AdminSearch(ctx context.Context, query, scope string) (*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "search query is required")
	}
	if scope == "" {
		scope = ScopeAll
	}
	switch scope {
	case ScopeAll, ScopeLots, ScopeUsers, ScopeSpots:
	default:
		return nil, apperrors.Newf(apperrors.CodeValidation, "unknown search type %q", scope)
	}
	lower := strings.ToLower(query)
	out := &SearchResult{
		Lots:  []model.LotAvailability{},
		Users: []model.UserOverview{},
		Spots: []model.SpotDetail{},
	}

	if scope == ScopeAll || scope == ScopeLots {
		lots, err := s.SearchLots(ctx, query, false)
		if err != nil {
			return nil, err
		}
		out.Lots = lots
	}
	if scope == ScopeAll || scope == ScopeUsers {
		users, err := s.ListUsers(ctx)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if strings.Contains(strings.ToLower(u.Name), lower) ||
				strings.Contains(strings.ToLower(u.Email), lower) ||
				strings.Contains(strconv.FormatUint(u.ID, 10), query) {
				out.Users = append(out.Users, u)
			}
		}
	}
	if scope == ScopeAll || scope == ScopeSpots {
		spots, err := s.spots.ListWithLot(ctx)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, err, "list spots failed")
		}
		for _, sp := range spots {
			if strings.Contains(strconv.Itoa(sp.Number), query) ||
				strings.Contains(strconv.FormatUint(sp.ID, 10), query) {
				out.Spots = append(out.Spots, sp)
			}
		}
	}
	return out, nil
}
