package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paddockdata/racepipe/internal/scraper"
)

const smartpickFixture = `
<html><body>
<div class="smartpick-horse">
  <a href="/profiles/Results.cfm?refno=123456&registry=T">Cavalry Charge</a>
  <span>J/T Combo: 23% wins</span>
  <span>Speed Figure: 84</span>
  <span>21 days since last race</span>
  <a class="jockey" href="/jockey.cfm?id=1">F Prat</a>
  <a class="trainer" href="/trainer.cfm?id=2">B Baffert</a>
</div>
<div class="smartpick-horse">
  <a href="/profiles/Results.cfm?refno=654321&registry=T">Tizna</a>
  <span>JT: 9% wins</span>
  <span>Speed Figure: 78</span>
  <a class="jockey" href="/jockey.cfm?id=3">U Rispoli</a>
  <a class="trainer" href="/trainer.cfm?id=4">P Miller</a>
</div>
</body></html>`

func TestParseSmartPick(t *testing.T) {
	t.Parallel()

	picks, err := ParseSmartPick([]byte(smartpickFixture))
	require.NoError(t, err)
	require.Len(t, picks, 2)

	first := picks[0]
	require.Equal(t, "Cavalry Charge", first.HorseName)
	require.InDelta(t, 23.0, first.ComboWinPct, 0.001)
	require.InDelta(t, 84.0, first.SpeedFigure, 0.001)
	require.InDelta(t, 21.0, first.DaysSinceLast, 0.001)
	require.Equal(t, "F Prat", first.Jockey)
	require.Equal(t, "B Baffert", first.Trainer)

	second := picks[1]
	require.InDelta(t, 9.0, second.ComboWinPct, 0.001)
	require.InDelta(t, 0.0, second.DaysSinceLast, 0.001)
}

func TestParseSmartPick_EmptyPageIsParseMismatch(t *testing.T) {
	t.Parallel()

	_, err := ParseSmartPick([]byte("<html><body><div id='app'></div></body></html>"))
	require.Error(t, err)
	require.True(t, errors.Is(err, scraper.ErrParseMismatch))
}

func TestMatchHorse(t *testing.T) {
	t.Parallel()

	picks := []SmartPick{
		{HorseName: "Cavalry  Charge"},
		{HorseName: "Tizna"},
	}

	got, ok := MatchHorse(picks, "cavalry charge")
	require.True(t, ok)
	require.Equal(t, "Cavalry  Charge", got.HorseName)

	_, ok = MatchHorse(picks, "Bran Castle")
	require.False(t, ok)
}

func TestSmartPick_Record(t *testing.T) {
	t.Parallel()

	sp := SmartPick{
		HorseName:     "Cavalry Charge",
		Jockey:        "F Prat",
		Trainer:       "B Baffert",
		ComboWinPct:   23,
		SpeedFigure:   84,
		DaysSinceLast: 21,
	}
	rec := sp.Record("DMR/1/Cavalry Charge")
	require.Equal(t, "smartpick", rec.Source)
	require.InDelta(t, 23.0, rec.Numeric["combo_win_pct"], 0.001)
	require.InDelta(t, 84.0, rec.Numeric["speed_figure"], 0.001)
	require.Equal(t, "F Prat", rec.Text["jockey"])
}
