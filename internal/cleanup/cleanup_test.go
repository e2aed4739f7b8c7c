package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/dgi_archiver/internal/archive"
	"github.com/italolelis/dgi_archiver/internal/archive/archivetest"
	"github.com/italolelis/dgi_archiver/internal/month"
)

func at(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 6, 0, 0, 0, time.UTC)
}

func TestIsExpired(t *testing.T) {
	tests := []struct {
		name string
		key  month.Key
		now  time.Time
		want bool
	}{
		{"month before window", month.New(2021, time.February), at(2026, time.March, 15), true},
		{"oldest month of window", month.New(2021, time.March), at(2026, time.March, 15), false},
		{"current month", month.New(2026, time.March), at(2026, time.March, 15), false},
		{"month ends exactly on cutoff", month.New(2021, time.February), at(2026, time.February, 28), false},
		{"month ends the day before cutoff", month.New(2021, time.January), at(2026, time.February, 1), true},
		{"leap day now", month.New(2019, time.February), at(2024, time.February, 29), false},
		{"long expired", month.New(2015, time.June), at(2026, time.March, 15), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpired(tt.key, tt.now, 5))
		})
	}
}

func TestIsExpired_EnumeratedMonthsAreNeverExpired(t *testing.T) {
	for d := at(2024, time.January, 1); d.Year() < 2026; d = d.AddDate(0, 0, 1) {
		for _, k := range month.Enumerate(d, 5) {
			assert.False(t, IsExpired(k, d, 5), "now=%s key=%s", d.Format(time.DateOnly), k)
		}
	}
}

func TestSweep_DeletesExpiredKeepsWindowAndForeign(t *testing.T) {
	store := archivetest.NewStore()
	uploaded := at(2021, time.March, 2)

	expired := store.Put("FICHIER_FEVRIER_2021.xlsx", 10, uploaded)
	store.Put("FICHIER_MARS_2021.xlsx", 10, uploaded)
	store.Put("FICHIER_MARS_2026.xlsx", 10, uploaded)
	store.Put("README.txt", 1, uploaded)
	store.Put("FICHIER_FEVRIER_2021 (1).xlsx", 10, uploaded)

	report, err := NewSweeper(store, 5).Sweep(context.Background(), at(2026, time.March, 15))
	require.NoError(t, err)

	assert.Equal(t, 5, report.Listed)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 2, report.Foreign)
	assert.Equal(t, 4, report.Kept)
	assert.Zero(t, report.DeleteFailures)
	assert.Equal(t, []string{expired}, store.Deletes)

	require.Len(t, report.Candidates, 1)
	assert.Equal(t, ReasonExpired, report.Candidates[0].Reason)

	assert.Equal(t, []string{
		"FICHIER_FEVRIER_2021 (1).xlsx",
		"FICHIER_MARS_2021.xlsx",
		"FICHIER_MARS_2026.xlsx",
		"README.txt",
	}, store.Names())
}

func TestSweep_RemovesOlderDuplicates(t *testing.T) {
	store := archivetest.NewStore()

	older := store.Put("FICHIER_JANVIER_2026.xlsx", 10, at(2026, time.January, 2))
	newer := store.Put("FICHIER_JANVIER_2026.xlsx", 10, at(2026, time.January, 3))

	report, err := NewSweeper(store, 5).Sweep(context.Background(), at(2026, time.March, 15))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.Kept)
	assert.Equal(t, []string{older}, store.Deletes)
	assert.Equal(t, ReasonDuplicate, report.Candidates[0].Reason)

	files, err := store.Find(context.Background(), "FICHIER_JANVIER_2026.xlsx")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, newer, files[0].ID)
}

func TestSweep_DeleteFailureIsCounted(t *testing.T) {
	store := archivetest.NewStore()

	failing := store.Put("FICHIER_JANVIER_2020.xlsx", 10, at(2020, time.January, 2))
	store.Put("FICHIER_FEVRIER_2020.xlsx", 10, at(2020, time.February, 2))
	store.DeleteErr[failing] = errors.New("permission denied")

	report, err := NewSweeper(store, 5).Sweep(context.Background(), at(2026, time.March, 15))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.DeleteFailures)
	assert.Contains(t, store.Names(), "FICHIER_JANVIER_2020.xlsx")

	for _, c := range report.Candidates {
		if c.File.ID == failing {
			assert.Error(t, c.Err)
		} else {
			assert.NoError(t, c.Err)
		}
	}
}

func TestSweep_ListFailureIsFatal(t *testing.T) {
	store := archivetest.NewStore()
	store.ListErr = errors.New("unauthorized")

	_, err := NewSweeper(store, 5).Sweep(context.Background(), at(2026, time.March, 15))

	var destErr *archive.DestinationError
	require.ErrorAs(t, err, &destErr)
	assert.Equal(t, "list", destErr.Operation)
}

func TestSweep_DryRun(t *testing.T) {
	store := archivetest.NewStore()
	store.Put("FICHIER_JANVIER_2020.xlsx", 10, at(2020, time.January, 2))

	report, err := NewSweeper(store, 5, WithDryRun(true), WithTimeout(time.Second)).Sweep(context.Background(), at(2026, time.March, 15))
	require.NoError(t, err)

	assert.Len(t, report.Candidates, 1)
	assert.Zero(t, report.Deleted)
	assert.Empty(t, store.Deletes)
	assert.Len(t, store.Names(), 1)
}
