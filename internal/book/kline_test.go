package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHumanizeRoundTrip(t *testing.T) {
	for _, period := range Periods {
		label, err := Humanize(period)
		require.NoError(t, err)

		back, err := ParsePeriod(label)
		require.NoError(t, err)
		assert.Equal(t, period, back)
	}

	_, err := Humanize(7)
	assert.ErrorIs(t, err, ErrUnknownPeriod)

	_, err = ParsePeriod("7m")
	assert.ErrorIs(t, err, ErrUnknownPeriod)
}

func TestKLineAddNormalizes(t *testing.T) {
	ks := NewKLineSeries("BTCUSDT")
	err := ks.Add(1, 1_700_000_000_000, d("10"), d("11"), d("9"), d("10.5"), d("0.123456"))
	require.NoError(t, err)

	depth := ks.Depth()
	require.Len(t, depth[1], 1)

	k := depth[1][0]
	assert.Equal(t, int64(1_700_000_000), k.OpenTime)
	assert.True(t, k.Open.Equal(d("10")))
	assert.True(t, k.High.Equal(d("11")))
	assert.True(t, k.Low.Equal(d("9")))
	assert.True(t, k.Close.Equal(d("10.5")))
	assert.True(t, k.Volume.Equal(d("0.1235")))
}

func TestKLineAddUnknownPeriod(t *testing.T) {
	ks := NewKLineSeries("BTCUSDT")
	err := ks.Add(7, 0, d("1"), d("1"), d("1"), d("1"), d("1"))
	assert.ErrorIs(t, err, ErrUnknownPeriod)
	assert.Zero(t, ks.Len(7))
}

func TestNormalizeMatchesAdd(t *testing.T) {
	ks := NewKLineSeries("ETHUSDT")
	require.NoError(t, ks.Add(60, 1_699_999_999_999, d("2000"), d("2010"), d("1990"), d("2005"), d("3.00005")))

	want := Normalize(1_699_999_999_999, d("2000"), d("2010"), d("1990"), d("2005"), d("3.00005"))
	stored := ks.Depth()[60][0]
	assert.Equal(t, want, stored)
}

func TestKLineDepthIsACopy(t *testing.T) {
	ks := NewKLineSeries("BTCUSDT")
	require.NoError(t, ks.Add(5, 60_000, d("1"), d("2"), d("0.5"), d("1.5"), d("10")))

	depth := ks.Depth()
	depth[5][0].OpenTime = 999

	assert.Equal(t, int64(60), ks.Depth()[5][0].OpenTime)
}
