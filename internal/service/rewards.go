package service

import (
	"slices"

	"github.com/shiva/tailwind/internal/model"
)

// ─── Rewards Configuration ──────────────────────────────────

// RankTier is one step of the rank ladder.
type RankTier struct {
	Name      string `json:"name" mapstructure:"name"`
	MinPoints int    `json:"min_points" mapstructure:"min_points"`
}

// RewardsConfig holds the journey-points parameters.
type RewardsConfig struct {
	DiscoveryBonus    int     // Points per newly visited country or state.
	LongDistanceKm    float64 // Journeys longer than this earn LongDistanceBonus.
	LongDistanceBonus int
	Ranks             []RankTier // Ascending by MinPoints.
}

// DefaultRankTable returns the standard rank ladder.
//
//	Paper Plane           0
//	Glider              500
//	Propeller         2,000
//	Jet Setter        5,000
//	Sky Captain      15,000
//	Stratosphere Legend 50,000
func DefaultRankTable() []RankTier {
	return []RankTier{
		{Name: "Paper Plane", MinPoints: 0},
		{Name: "Glider", MinPoints: 500},
		{Name: "Propeller", MinPoints: 2000},
		{Name: "Jet Setter", MinPoints: 5000},
		{Name: "Sky Captain", MinPoints: 15000},
		{Name: "Stratosphere Legend", MinPoints: 50000},
	}
}

// DefaultRewardsConfig returns the nominal rewards parameters.
func DefaultRewardsConfig() RewardsConfig {
	return RewardsConfig{
		DiscoveryBonus:    100,
		LongDistanceKm:    10000,
		LongDistanceBonus: 500,
		Ranks:             DefaultRankTable(),
	}
}

// RankFor returns the highest tier whose threshold points reaches.
func RankFor(points int, table []RankTier) string {
	if len(table) == 0 {
		return ""
	}
	rank := table[0].Name
	for _, tier := range table {
		if points >= tier.MinPoints {
			rank = tier.Name
		}
	}
	return rank
}

// ─── JourneyAward ───────────────────────────────────────────

// JourneyAward is the breakdown of points earned by one delivered journey.
type JourneyAward struct {
	DistancePoints     int      `json:"distance_points"`
	DiscoveryPoints    int      `json:"discovery_points"`
	LongDistancePoints int      `json:"long_distance_points"`
	TotalPoints        int      `json:"total_points"`
	NewCountries       []string `json:"new_countries,omitempty"`
	NewStates          []string `json:"new_states,omitempty"`
	PreviousRank       string   `json:"previous_rank"`
	NewRank            string   `json:"new_rank"`
}

// RankChanged reports whether the journey promoted the recipient.
func (a JourneyAward) RankChanged() bool {
	return a.PreviousRank != a.NewRank
}

// ApplyJourney folds one delivered journey into stats in place.
//
// Formula:
//
//	Points = ⌊distanceKm⌋ + DiscoveryBonus × (new countries + new states)
//	       + LongDistanceBonus if distanceKm > LongDistanceKm
func ApplyJourney(stats *model.UserStats, distanceKm float64, country, state string, cfg RewardsConfig) JourneyAward {
	award := JourneyAward{PreviousRank: stats.Rank}
	if award.PreviousRank == "" {
		award.PreviousRank = RankFor(stats.JourneyPoints, cfg.Ranks)
	}

	award.DistancePoints = int(distanceKm)

	if country != "" && !slices.Contains(stats.VisitedCountries, country) {
		stats.VisitedCountries = append(stats.VisitedCountries, country)
		award.NewCountries = append(award.NewCountries, country)
		award.DiscoveryPoints += cfg.DiscoveryBonus
	}
	if state != "" && !slices.Contains(stats.VisitedStates, state) {
		stats.VisitedStates = append(stats.VisitedStates, state)
		award.NewStates = append(award.NewStates, state)
		award.DiscoveryPoints += cfg.DiscoveryBonus
	}

	if distanceKm > cfg.LongDistanceKm {
		award.LongDistancePoints = cfg.LongDistanceBonus
	}

	award.TotalPoints = award.DistancePoints + award.DiscoveryPoints + award.LongDistancePoints

	stats.FlightsReceived++
	stats.TotalDistanceKm += distanceKm
	stats.JourneyPoints += award.TotalPoints
	stats.Rank = RankFor(stats.JourneyPoints, cfg.Ranks)
	award.NewRank = stats.Rank

	return award
}
