// Package service contains the core flight and delivery simulation logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/shiva/tailwind/internal/model"
	"github.com/shiva/tailwind/internal/repository"
	"github.com/shiva/tailwind/pkg/geo"
)

// ─── Errors ─────────────────────────────────────────────────

var (
	ErrNoEligibleRecipients = errors.New("no eligible recipients")
	ErrSenderNotFound       = errors.New("sender not found")
	ErrSenderNoLocation     = errors.New("sender has no location")
)

// ─── Constants ──────────────────────────────────────────────

// Distance bands for recipient weighting. Farther recipients are favored so
// postcards tend to travel.
const (
	BandLocalKm       = 100.0
	BandRegionalKm    = 500.0
	BandNationalKm    = 2000.0
	BandContinentalKm = 8000.0
)

// MatchingConfig holds the eligibility thresholds.
type MatchingConfig struct {
	MinDistanceKm float64       // Candidates closer than this are excluded.
	InactiveAfter time.Duration // Candidates idle longer than this are excluded.
}

// DefaultMatchingConfig returns the nominal eligibility thresholds.
func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		MinDistanceKm: 500,
		InactiveAfter: 14 * 24 * time.Hour,
	}
}

// DistanceWeight maps a sender→candidate distance to its selection weight.
func DistanceWeight(km float64) float64 {
	switch {
	case km < BandLocalKm:
		return 0.1
	case km < BandRegionalKm:
		return 0.3
	case km < BandNationalKm:
		return 1.0
	case km < BandContinentalKm:
		return 2.0
	default:
		return 3.0
	}
}

// ─── MatchingService ────────────────────────────────────────

// MatchingService picks a random recipient for a sender.
//
// Algorithm overview:
//
//  1. FETCH: load the full match pool (users with location and activity).
//  2. FILTER: drop the sender, opted-out users, users without a location,
//     inactive users and anyone closer than MinDistanceKm.
//  3. WEIGHT: assign each survivor a weight from its distance band.
//  4. SELECT: roulette-wheel draw proportional to weight.
//
// Complexity: O(U) for U users in the pool.
type MatchingService struct {
	users UserStore
	cfg   MatchingConfig
	now   func() time.Time

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// MatchingOption configures a MatchingService.
type MatchingOption func(*MatchingService)

// WithRand injects the random source used for weighted selection.
func WithRand(r *rand.Rand) MatchingOption {
	return func(s *MatchingService) { s.rng = r }
}

// WithMatchingClock overrides the clock used for the inactivity filter.
func WithMatchingClock(now func() time.Time) MatchingOption {
	return func(s *MatchingService) { s.now = now }
}

// NewMatchingService creates a matching service backed by the given store.
func NewMatchingService(users UserStore, cfg MatchingConfig, opts ...MatchingOption) *MatchingService {
	def := DefaultMatchingConfig()
	if cfg.MinDistanceKm <= 0 {
		cfg.MinDistanceKm = def.MinDistanceKm
	}
	if cfg.InactiveAfter <= 0 {
		cfg.InactiveAfter = def.InactiveAfter
	}
	s := &MatchingService{
		users: users,
		cfg:   cfg,
		now:   time.Now,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindEligibleRecipients filters pool down to users the sender may be
// matched with and attaches distance and weight to each.
func (s *MatchingService) FindEligibleRecipients(senderID int64, senderLoc model.GeoPoint, pool []model.User) []model.EligibleCandidate {
	return s.filter(senderID, senderLoc, pool, true)
}

// FindRelaxedRecipients is the fallback pool: same as FindEligibleRecipients
// but without the minimum-distance and inactivity exclusions.
func (s *MatchingService) FindRelaxedRecipients(senderID int64, senderLoc model.GeoPoint, pool []model.User) []model.EligibleCandidate {
	return s.filter(senderID, senderLoc, pool, false)
}

func (s *MatchingService) filter(senderID int64, senderLoc model.GeoPoint, pool []model.User, strict bool) []model.EligibleCandidate {
	cutoff := s.now().Add(-s.cfg.InactiveAfter)
	out := make([]model.EligibleCandidate, 0, len(pool))

	for _, u := range pool {
		if u.ID == senderID || u.OptOutRandom || u.Location == nil || !geo.Valid(*u.Location) {
			continue
		}
		if strict && u.LastActiveAt.Before(cutoff) {
			continue
		}
		d := geo.DistanceKm(senderLoc, *u.Location)
		if strict && d < s.cfg.MinDistanceKm {
			continue
		}
		out = append(out, model.EligibleCandidate{
			User:       u,
			DistanceKm: d,
			Weight:     DistanceWeight(d),
		})
	}
	return out
}

// SelectWeightedRecipient draws one candidate with probability proportional
// to its weight. A single candidate is returned without consuming randomness.
func (s *MatchingService) SelectWeightedRecipient(candidates []model.EligibleCandidate) (*model.User, error) {
	idx, err := s.selectIndex(candidates)
	if err != nil {
		return nil, err
	}
	u := candidates[idx].User
	return &u, nil
}

func (s *MatchingService) selectIndex(candidates []model.EligibleCandidate) (int, error) {
	switch len(candidates) {
	case 0:
		return 0, ErrNoEligibleRecipients
	case 1:
		return 0, nil
	}

	total := 0.0
	for _, c := range candidates {
		if c.Weight > 0 {
			total += c.Weight
		}
	}

	s.mu.Lock()
	r := s.rng.Float64() * total
	s.mu.Unlock()

	// First candidate whose running total reaches r; weightless ones never win.
	cum := 0.0
	for i, c := range candidates {
		if c.Weight <= 0 {
			continue
		}
		cum += c.Weight
		if cum >= r {
			return i, nil
		}
	}
	return len(candidates) - 1, nil
}

// MatchRecipient loads the pool and picks a recipient for senderID. When the
// strict pool is empty and relaxed is true, the relaxed pool is tried.
func (s *MatchingService) MatchRecipient(ctx context.Context, senderID int64, relaxed bool) (*model.EligibleCandidate, error) {
	sender, err := s.users.GetUser(ctx, senderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSenderNotFound
		}
		return nil, fmt.Errorf("load sender: %w", err)
	}
	if sender.Location == nil {
		return nil, ErrSenderNoLocation
	}
	if !geo.Valid(*sender.Location) {
		return nil, fmt.Errorf("sender #%d location: %w", senderID, ErrInvalidCoordinates)
	}

	pool, err := s.users.ListMatchPool(ctx)
	if err != nil {
		return nil, fmt.Errorf("load match pool: %w", err)
	}

	candidates := s.FindEligibleRecipients(senderID, *sender.Location, pool)
	log.Printf("[match] Sender #%d: %d eligible of %d users", senderID, len(candidates), len(pool))

	if len(candidates) == 0 && relaxed {
		candidates = s.FindRelaxedRecipients(senderID, *sender.Location, pool)
		log.Printf("[match] Sender #%d: relaxed pool has %d candidates", senderID, len(candidates))
	}

	idx, err := s.selectIndex(candidates)
	if err != nil {
		return nil, err
	}

	chosen := candidates[idx]
	// Exact coordinates never leave the service.
	anon := geo.Anonymize(*chosen.User.Location)
	chosen.User.Location = &anon
	log.Printf("[match] ✓ Sender #%d → user #%d (%.0f km, weight %.1f)",
		senderID, chosen.User.ID, chosen.DistanceKm, chosen.Weight)
	return &chosen, nil
}
