package name

import (
	"context"
	"testing"

	"github.com/smallbiznis/destiny/internal/calendar"
	"github.com/smallbiznis/destiny/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		dropped int
	}{
		{"Ada Lovelace", "ADA LOVELACE", 0},
		{"  José   Núñez ", "JOSE NUNEZ", 0},
		{"Zoë O'Neil-Smith", "ZOE O NEIL SMITH", 0},
		{"Mei 林", "MEI", 1},
		{"王小明", "", 3},
	}
	for _, tc := range cases {
		got, dropped, err := Normalize(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.dropped, dropped, tc.in)
	}
}

func TestCompute(t *testing.T) {
	chart := Compute("ADA LOVELACE", Options{KeepMasters: true})
	assert.Equal(t, Numbers{Expression: 9, SoulUrge: 1, Personality: 8}, chart.Numbers)
	assert.Equal(t, 11, chart.Letters)
	assert.Equal(t, []int{2, 7, 8, 9}, chart.Missing)
	assert.Equal(t, 3, chart.Frequency["A"])

	plain := Compute("YVES", Options{})
	assert.Equal(t, 5, plain.Numbers.SoulUrge)
	withY := Compute("YVES", Options{YAsVowel: true})
	assert.Equal(t, 3, withY.Numbers.SoulUrge)
}

func TestRomanize(t *testing.T) {
	assert.Equal(t, "jose alvarez", Romanize("José Álvarez"))
	assert.Equal(t, "", Romanize("  "))
}

func TestGenerate(t *testing.T) {
	moment := calendar.CanonicalBirthMoment{DisplayName: "Mei 林"}

	res, err := New().Generate(context.Background(), moment, nil)
	require.NoError(t, err)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "characters_dropped", res.Diagnostics[0].Code)

	res, err = New().Generate(context.Background(), calendar.CanonicalBirthMoment{DisplayName: "王小明"}, nil)
	require.NoError(t, err)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "name_romanized", res.Diagnostics[0].Code)
	assert.Contains(t, string(res.Payload), `"romanized":true`)

	_, err = New().Generate(context.Background(), calendar.CanonicalBirthMoment{DisplayName: "王小明"}, engine.Options{"romanize": false})
	assert.ErrorIs(t, err, engine.ErrEngineComputation)

	_, err = New().Generate(context.Background(), calendar.CanonicalBirthMoment{}, nil)
	assert.ErrorIs(t, err, engine.ErrEngineComputation)

	res, err = New().Generate(context.Background(), calendar.CanonicalBirthMoment{}, engine.Options{"name": "Ada Lovelace"})
	require.NoError(t, err)
	assert.Contains(t, string(res.Payload), `"normalized":"ADA LOVELACE"`)
}
