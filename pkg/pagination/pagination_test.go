package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
)

func TestCursorRoundTrip(t *testing.T) {
	want := Cursor{CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 123, time.UTC), ID: uuid.New()}
	token := EncodeCursor(want)
	require.NotContains(t, token, "=")

	got, err := ParseCursor(" " + token + " ")
	require.NoError(t, err)
	require.True(t, got.CreatedAt.Equal(want.CreatedAt))
	require.Equal(t, want.ID, got.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"%%%", "bm8tc2VwYXJhdG9y", "YWJjfGRlZg"} {
		_, err := ParseCursor(raw)
		require.Error(t, err, raw)
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), raw)
	}
	got, err := ParseCursor("")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestTrimReturnsNextCursorOnlyWhenMoreRows(t *testing.T) {
	position := func(n int) Cursor {
		return Cursor{CreatedAt: time.Unix(int64(n), 0).UTC(), ID: uuid.Nil}
	}

	rows, next := Trim([]int{5, 4, 3}, 3, position)
	require.Len(t, rows, 3)
	require.Empty(t, next)

	rows, next = Trim([]int{5, 4, 3, 2}, 3, position)
	require.Equal(t, []int{5, 4, 3}, rows)
	cursor, err := ParseCursor(next)
	require.NoError(t, err)
	require.Equal(t, int64(3), cursor.CreatedAt.Unix())
}

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, NormalizeLimit(0))
	require.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))
	require.Equal(t, 7, NormalizeLimit(7))
}
