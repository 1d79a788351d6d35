package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paddockdata/racepipe/internal/scraper"
)

func TestNormalizeEquipment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"first time lasix", "First Time Lasix", "L1"},
		{"lasix shorthand", "first-time L", "L1"},
		{"blinkers added", "blinkers added", "Blinkers On"},
		{"blinkers removed", "Blinkers Removed", "Blinkers Off"},
		{"tongue tie", "tongue-tie on", "Tongue Tie On"},
		{"shadow roll", "shadow roll off", "Shadow Roll Off"},
		{"list order and separators", "blinkers on; first time lasix", "Blinkers On, L1"},
		{"reversed list matches", "L1, Blinkers Added", "Blinkers On, L1"},
		{"duplicates collapse", "L1, lasix", "L1"},
		{"unknown gear passes through", "bar  shoes", "bar shoes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, NormalizeEquipment(tt.in))
		})
	}
}

func TestReconcile_EquipmentSpellingVariantsAgree(t *testing.T) {
	t.Parallel()

	e := New()
	rec := e.Reconcile("DMR/1/Cavalry Charge",
		record("profile", nil, map[string]string{"equipment": "Blinkers Added, First Time Lasix"}),
		record("smartpick", nil, map[string]string{"equipment": "L1; blinkers on"}),
	)

	require.Equal(t, scraper.ConsistencyScored, rec.Consistency)
	require.InDelta(t, 100.0, rec.Score, 0.01)
	require.Empty(t, rec.Discrepancies)
}

func TestReconcile_EquipmentRealMismatchStillFlagged(t *testing.T) {
	t.Parallel()

	e := New()
	rec := e.Reconcile("DMR/1/Cavalry Charge",
		record("profile", nil, map[string]string{"medication": "L1"}),
		record("smartpick", nil, map[string]string{"medication": "Blinkers On"}),
	)

	require.Len(t, rec.Discrepancies, 1)
	require.Equal(t, "medication", rec.Discrepancies[0].Field)
	require.Equal(t, scraper.SeverityMedium, rec.Discrepancies[0].Severity)
	require.Equal(t, "L1", rec.Text["medication"])
}
