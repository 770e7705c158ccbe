package tags

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "", nil},
		{"whitespace only", "   ", nil},
		{"csv", "prod,edge,eu-west", []string{"prod", "edge", "eu-west"}},
		{"csv with spaces", " prod , edge ,", []string{"prod", "edge"}},
		{"json array", `["prod","edge"]`, []string{"prod", "edge"}},
		{"json array with blanks", `["prod","  ",""]`, []string{"prod"}},
		{"malformed json treated as csv", `[prod,edge`, []string{"[prod", "edge"}},
		{"single value", "prod", []string{"prod"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Parse(tc.raw))
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	require.Equal(t, "", Encode(nil))
	require.Equal(t, "", Encode([]string{" ", ""}))

	enc := Encode([]string{" prod", "edge "})
	require.Equal(t, `["prod","edge"]`, enc)
	require.Equal(t, []string{"prod", "edge"}, Parse(enc))
}

func TestReferencedMatchesWholeElements(t *testing.T) {
	ref := Referenced([]string{`["production","edge"]`, "staging, eu-west", ""})
	require.True(t, ref["production"])
	require.True(t, ref["edge"])
	require.True(t, ref["staging"])
	require.True(t, ref["eu-west"])
	require.False(t, ref["prod"], "substring of a stored tag is not a reference")
	require.False(t, ref["eu"])
}

func TestHasAny(t *testing.T) {
	require.True(t, HasAny([]string{"prod", "edge"}, []string{"edge"}))
	require.False(t, HasAny([]string{"prod"}, []string{"edge"}))
	require.False(t, HasAny(nil, []string{"edge"}))
	require.False(t, HasAny([]string{"prod"}, nil))
}
