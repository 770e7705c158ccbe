package history

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedupeByID(t *testing.T) {
	in := []Record{{ID: 3}, {ID: 1}, {ID: 3}, {ID: 2}, {ID: 1}}
	out := DedupeByID(in)
	require.Len(t, out, 3)
	require.Equal(t, int64(3), out[0].ID)
	require.Equal(t, int64(1), out[1].ID)
	require.Equal(t, int64(2), out[2].ID)
}

func TestDedupeByIDKeepsFirstOccurrence(t *testing.T) {
	in := []Record{{ID: 1, StatusCode: 200}, {ID: 1, StatusCode: 500}}
	out := DedupeByID(in)
	require.Len(t, out, 1)
	require.Equal(t, 200, out[0].StatusCode)
}

func TestDedupeByIDEmpty(t *testing.T) {
	require.Empty(t, DedupeByID(nil))
}
