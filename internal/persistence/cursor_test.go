package persistence

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/trainingalerts/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &domain.ListCursor{
		SeverityRank: 2,
		CreatedAt:    time.Date(2025, time.April, 2, 8, 30, 15, 123456000, time.UTC),
		ID:           "3f5c6a8e-7d0b-4c1e-9a57-0e4b3c2d1f00",
	}

	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	require.Equal(t, in.SeverityRank, out.SeverityRank)
	require.True(t, in.CreatedAt.Equal(out.CreatedAt))
	require.Equal(t, in.ID, out.ID)
}

func TestDecodeCursorEmpty(t *testing.T) {
	c, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)
	require.Empty(t, EncodeCursor(nil))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{
		"!!!",
		base64.RawURLEncoding.EncodeToString([]byte("2|2025-04-02T08:30:15Z")),
		base64.RawURLEncoding.EncodeToString([]byte("9|2025-04-02T08:30:15Z|abc")),
		base64.RawURLEncoding.EncodeToString([]byte("1|yesterday|abc")),
	} {
		_, err := DecodeCursor(token)
		require.ErrorIs(t, err, domain.ErrInvalidCursor, token)
	}
}
