package portal

import (
	"testing"
	"time"

	"github.com/italolelis/dgi_archiver/internal/month"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocator_DefaultTemplate(t *testing.T) {
	l, err := NewLocator("")
	require.NoError(t, err)

	assert.Equal(t,
		"https://teledeclaration-dgi.cm/UploadedFiles/AttachedFiles/ArchiveListecontribuable/FICHIER%20JANVIER%202026.xlsx",
		l.URL(month.New(2026, time.January)),
	)
	assert.Equal(t,
		"https://teledeclaration-dgi.cm/UploadedFiles/AttachedFiles/ArchiveListecontribuable/FICHIER%20AOUT%202023.xlsx",
		l.URL(month.New(2023, time.August)),
	)
}

func TestLocator_EveryMonthHasOneURL(t *testing.T) {
	l, err := NewLocator(DefaultURLTemplate)
	require.NoError(t, err)

	seen := make(map[string]month.Key)
	for _, k := range month.Enumerate(time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC), 5) {
		u := l.URL(k)
		assert.Equal(t, u, l.URL(k))

		prev, dup := seen[u]
		assert.False(t, dup, "%s and %s share %s", prev, k, u)
		seen[u] = k
	}
}

func TestLocator_CustomTemplate(t *testing.T) {
	l, err := NewLocator("http://127.0.0.1:8080/files/{year}/{month}.xlsx")
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8080/files/2025/DECEMBRE.xlsx", l.URL(month.New(2025, time.December)))
}

func TestNewLocator_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		template string
	}{
		{"missing month", "https://example.com/{year}.xlsx"},
		{"missing year", "https://example.com/{month}.xlsx"},
		{"relative", "/files/{month}/{year}.xlsx"},
		{"ftp scheme", "ftp://example.com/{month}/{year}.xlsx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLocator(tt.template)
			assert.Error(t, err)
		})
	}
}
