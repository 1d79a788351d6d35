package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paddockdata/racepipe/internal/scraper"
)

const entriesFixture = `
<html><body>
<table class="race">
  <caption>Race 1</caption>
  <tr><th>PP</th><th>Horse</th><th>Jockey</th><th>Trainer</th></tr>
  <tr>
    <td>1</td>
    <td><a href="/profiles/Results.cfm?type=Horse&refno=123456registry=T">Cavalry Charge</a></td>
    <td class="jockey">F Prat</td>
    <td class="trainer">B Baffert</td>
  </tr>
  <tr>
    <td>2</td>
    <td><a href="/profiles/Results.cfm?type=Horse&refno=654321&registry=T">Tizna</a></td>
    <td class="jockey">U Rispoli</td>
    <td class="trainer">P Miller</td>
  </tr>
</table>
<table class="race">
  <caption>Race 2</caption>
  <tr>
    <td>1</td>
    <td><a href="/profiles/Results.cfm?type=Horse&refno=777888&registry=T">Seaside Escape</a></td>
    <td class="jockey">K Frey</td>
    <td class="trainer">D O'Neill</td>
  </tr>
</table>
</body></html>`

func TestParseRaceCard(t *testing.T) {
	t.Parallel()

	card, err := ParseRaceCard([]byte(entriesFixture), "DMR", "2025-09-05")
	require.NoError(t, err)
	require.Equal(t, "DMR", card.TrackID)
	require.Len(t, card.Races, 2)

	r1 := card.Races[0]
	require.Equal(t, 1, r1.Number)
	require.Len(t, r1.Horses, 2)
	require.Equal(t, "Cavalry Charge", r1.Horses[0].Name)
	require.Equal(t, 1, r1.Horses[0].PostPosition)
	require.Equal(t, "F Prat", r1.Horses[0].Jockey)
	require.Equal(t, "B Baffert", r1.Horses[0].Trainer)
	// The mangled profile link is repaired during extraction.
	require.Equal(t,
		"https://www.equibase.com/profiles/Results.cfm?type=Horse&refno=123456&registry=T",
		r1.Horses[0].ProfileURL)

	require.Equal(t, 2, card.Races[1].Number)
	require.False(t, card.Placeholder())
	require.Len(t, card.Horses(), 3)
}

func TestParseRaceCard_NoRacesIsParseMismatch(t *testing.T) {
	t.Parallel()

	_, err := ParseRaceCard([]byte("<html><body><p>maintenance</p></body></html>"), "DMR", "2025-09-05")
	require.Error(t, err)
	require.True(t, errors.Is(err, scraper.ErrParseMismatch))
}

func TestRaceCard_PlaceholderDetection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		card RaceCard
		want bool
	}{
		{name: "empty card", card: RaceCard{}, want: true},
		{
			name: "race without horses",
			card: RaceCard{Races: []Race{{Number: 1}}},
			want: true,
		},
		{
			name: "tba entrant",
			card: RaceCard{Races: []Race{{Number: 1, Horses: []HorseEntry{{Name: "TBA"}}}}},
			want: true,
		},
		{
			name: "real card",
			card: RaceCard{Races: []Race{{Number: 1, Horses: []HorseEntry{{Name: "Cavalry Charge"}}}}},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.card.Placeholder())
		})
	}
}

func TestHorseEntry_EntityKey(t *testing.T) {
	t.Parallel()

	h := HorseEntry{Name: "Cavalry Charge"}
	require.Equal(t, "DMR/4/Cavalry Charge", h.EntityKey("DMR", 4))
}
