package pagination

import (
	"errors"
	"math"
	"testing"

	"climatology/harvester/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPages(t *testing.T) {
	tests := []struct {
		total, perPage, want int
	}{
		{40, 20, 2},
		{41, 20, 3},
		{39, 20, 2},
		{1, 20, 1},
		{20, 20, 1},
		{21, 20, 2},
		{0, 20, 0},
		{10, 0, 0},
		{100000, 1, 100000},
		{math.MaxInt, 1, math.MaxInt},
		{math.MaxInt, 2, math.MaxInt/2 + 1},
		{math.MaxInt - 1, 2, math.MaxInt / 2},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Pages(tt.total, tt.perPage), "Pages(%d, %d)", tt.total, tt.perPage)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want domain.PageSummary
	}{
		{
			name: "exact division",
			text: "Showing 1 to 20 of 40 entries",
			want: domain.PageSummary{TotalItems: 40, ItemsPerPage: 20, TotalPages: 2},
		},
		{
			name: "remainder",
			text: "Showing 1 to 20 of 41 entries",
			want: domain.PageSummary{TotalItems: 41, ItemsPerPage: 20, TotalPages: 3},
		},
		{
			name: "single short page",
			text: "Showing 1 to 7 of 7 entries",
			want: domain.PageSummary{TotalItems: 7, ItemsPerPage: 7, TotalPages: 1},
		},
		{
			name: "later page",
			text: "Showing 21 to 40 of 45 entries",
			want: domain.PageSummary{TotalItems: 45, ItemsPerPage: 20, TotalPages: 3},
		},
		{
			name: "filtered suffix",
			text: "Showing 1 to 10 of 57 entries (filtered from 1,000 total entries)",
			want: domain.PageSummary{TotalItems: 57, ItemsPerPage: 10, TotalPages: 6},
		},
		{
			name: "lower case and extra whitespace",
			text: "  showing 1  to 50\n of 2,231 entries ",
			want: domain.PageSummary{TotalItems: 2231, ItemsPerPage: 50, TotalPages: 45},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.False(t, got.Empty())
		})
	}
}

func TestParseGroupingSeparators(t *testing.T) {
	plain, err := Parse("1 to 12345 of 67890 entries")
	require.NoError(t, err)

	for _, text := range []string{
		"1 to 12,345 of 67,890 entries",
		"Showing 1 to 12,345 of 67,890 entries",
		"Showing 1 to 12.345 of 67.890 entries",
		"Showing 1 to 12 345 of 67 890 entries",
	} {
		got, err := Parse(text)
		require.NoError(t, err, text)
		assert.Equal(t, plain, got, text)
	}

	assert.Equal(t, 67890, plain.TotalItems)
	assert.Equal(t, 12345, plain.ItemsPerPage)
	assert.Equal(t, 6, plain.TotalPages)
}

func TestParseEmpty(t *testing.T) {
	got, err := Parse("Showing 0 to 0 of 0 entries")
	require.NoError(t, err)
	assert.True(t, got.Empty())
	assert.Equal(t, 0, got.TotalPages)
}

func TestParseErrors(t *testing.T) {
	for _, text := range []string{
		"",
		"No data available in table",
		"Showing 1 to 20 from 40 entries",
		"Showing 1 to 20 of 40",
		"Showing 0 to 20 of 40 entries",
		"Showing 30 to 20 of 40 entries",
	} {
		_, err := Parse(text)
		require.Error(t, err, text)

		var parseErr *domain.ParseError
		assert.True(t, errors.As(err, &parseErr), text)
	}
}
