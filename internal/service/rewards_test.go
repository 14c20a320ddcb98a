package service

import (
	"testing"

	"github.com/shiva/tailwind/internal/model"
)

func TestRankFor(t *testing.T) {
	table := DefaultRankTable()
	cases := []struct {
		points int
		want   string
	}{
		{0, "Paper Plane"},
		{499, "Paper Plane"},
		{500, "Glider"},
		{1999, "Glider"},
		{2000, "Propeller"},
		{5000, "Jet Setter"},
		{14999, "Jet Setter"},
		{15000, "Sky Captain"},
		{50000, "Stratosphere Legend"},
		{1000000, "Stratosphere Legend"},
	}
	for _, c := range cases {
		if got := RankFor(c.points, table); got != c.want {
			t.Errorf("RankFor(%d) = %q, want %q", c.points, got, c.want)
		}
	}
	if got := RankFor(10, nil); got != "" {
		t.Errorf("RankFor with empty table = %q, want empty", got)
	}
}

func TestApplyJourney_DiscoveryOnlyOnce(t *testing.T) {
	cfg := DefaultRewardsConfig()
	stats := &model.UserStats{}

	first := ApplyJourney(stats, 300, "FR", "", cfg)
	if first.DiscoveryPoints != 100 {
		t.Errorf("first FR journey discovery = %d, want 100", first.DiscoveryPoints)
	}

	second := ApplyJourney(stats, 300, "FR", "", cfg)
	if second.DiscoveryPoints != 0 {
		t.Errorf("repeat FR journey discovery = %d, want 0", second.DiscoveryPoints)
	}

	if stats.FlightsReceived != 2 {
		t.Errorf("FlightsReceived = %d, want 2", stats.FlightsReceived)
	}
	if stats.JourneyPoints != 700 {
		t.Errorf("JourneyPoints = %d, want 700", stats.JourneyPoints)
	}
	if stats.Rank != "Glider" {
		t.Errorf("Rank = %q, want Glider", stats.Rank)
	}
	if !second.RankChanged() {
		t.Errorf("crossing 500 points should change rank")
	}
}

func TestApplyJourney_LongDistanceBonus(t *testing.T) {
	cfg := DefaultRewardsConfig()

	short := ApplyJourney(&model.UserStats{}, 10000, "", "", cfg)
	if short.LongDistancePoints != 0 {
		t.Errorf("10000 km bonus = %d, want 0", short.LongDistancePoints)
	}

	long := ApplyJourney(&model.UserStats{}, 16990.7, "AU", "NSW", cfg)
	if long.LongDistancePoints != 500 {
		t.Errorf("16990 km bonus = %d, want 500", long.LongDistancePoints)
	}
	if want := 16990 + 200 + 500; long.TotalPoints != want {
		t.Errorf("TotalPoints = %d, want %d", long.TotalPoints, want)
	}
	if long.NewRank != "Sky Captain" {
		t.Errorf("NewRank = %q, want Sky Captain", long.NewRank)
	}
}
