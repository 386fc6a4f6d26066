package tagging

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/downtime.report/internal/features"
	"github.com/banshee-data/downtime.report/internal/monitoring"
)

type fakeDecoder struct {
	decodings map[int]Decoding
	err       error
}

func (f *fakeDecoder) FitAndDecode(series []float64, k int) (Decoding, error) {
	if f.err != nil {
		return Decoding{}, f.err
	}
	return f.decodings[k], nil
}

func TestBIC(t *testing.T) {
	// ln(7)*3 - 2*(-10)
	got := BIC(7, 3, -10)
	assert.InDelta(t, 1.9459101*3+20, got, 1e-6)
}

func TestTag_SelectsLowestBIC(t *testing.T) {
	defer monitoring.Quiet()()

	series := []float64{0.1, 0.2, 5, 6, 0.1, 3}
	dec := &fakeDecoder{decodings: map[int]Decoding{
		2: {States: 2, Labels: []int{1, 1, 0, 0, 1, 0}, LogLikelihood: -100, ParamCount: 6},
		3: {States: 3, Labels: []int{2, 2, 0, 0, 2, 1}, LogLikelihood: -20, ParamCount: 9},
	}}
	tg := &Tagger{Decoder: dec, Candidates: []int{2, 3}}

	res, err := tg.Tag(series)
	require.NoError(t, err)
	assert.Equal(t, 3, res.States)
	assert.Less(t, res.BIC[3], res.BIC[2])

	// State 0 has mean 5.5 (highest) so it alone becomes active; state 1
	// (mean 3) collapses to idle with state 2.
	if diff := cmp.Diff([]int{0, 0, 1, 1, 0, 0}, res.Labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestTag_TieKeepsFirstCandidate(t *testing.T) {
	defer monitoring.Quiet()()

	dec := &fakeDecoder{decodings: map[int]Decoding{
		2: {States: 2, Labels: []int{0, 1, 1}, LogLikelihood: -5, ParamCount: 4},
		3: {States: 3, Labels: []int{0, 2, 2}, LogLikelihood: -5, ParamCount: 4},
	}}
	res, err := (&Tagger{Decoder: dec, Candidates: []int{2, 3}}).Tag([]float64{0, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, 2, res.States)
}

func TestTag_DecoderError(t *testing.T) {
	defer monitoring.Quiet()()

	boom := errors.New("boom")
	_, err := (&Tagger{Decoder: &fakeDecoder{err: boom}}).Tag([]float64{1, 2, 3})
	assert.ErrorIs(t, err, boom)

	_, err = NewTagger().Tag(nil)
	assert.ErrorIs(t, err, features.ErrInsufficientData)
}

func TestTag_TooFewRows(t *testing.T) {
	defer monitoring.Quiet()()

	for _, series := range [][]float64{{0.1}, {0.1, 2}} {
		_, err := NewTagger().Tag(series)
		assert.ErrorIs(t, err, features.ErrInsufficientData, "rows=%d", len(series))
	}

	// Two rows are enough when only two states are fitted.
	dec := &fakeDecoder{decodings: map[int]Decoding{2: {States: 2, Labels: []int{0, 1}, ParamCount: 4}}}
	_, err := (&Tagger{Decoder: dec, Candidates: []int{2}}).Tag([]float64{0.1, 2})
	assert.NoError(t, err)
}

func TestRankByMean(t *testing.T) {
	defer monitoring.Quiet()()

	feature := []float64{10, 10, 1, 1, 5}
	states := []int{0, 0, 1, 1, 2}
	got := RankByMean(feature, states)
	assert.Equal(t, []int{2, 2, 0, 0, 1}, got)
}

func TestRankByMean_TiesByStateIndex(t *testing.T) {
	defer monitoring.Quiet()()

	got := RankByMean([]float64{1, 1, 1}, []int{2, 0, 1})
	assert.Equal(t, []int{2, 0, 1}, got)
}

func TestRankByMean_SkipsAbsentStates(t *testing.T) {
	defer monitoring.Quiet()()

	// A three state model that only used states 0 and 2.
	got := RankByMean([]float64{3, 3, 0.1}, []int{0, 0, 2})
	assert.Equal(t, []int{1, 1, 0}, got)
}

func TestCollapseToActive(t *testing.T) {
	assert.Equal(t, []int{0, 1, 0, 1}, CollapseToActive([]int{0, 2, 1, 2}))
	assert.Equal(t, []int{0, 0}, CollapseToActive([]int{0, 0}))
	assert.Equal(t, []int{}, CollapseToActive([]int{}))
}

func TestFlipByStd(t *testing.T) {
	feature := []float64{0.1, 0.1, 0.1, 1, 3, 5}
	states := []int{1, 1, 1, 0, 0, 0}
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1}, FlipByStd(feature, states))

	// Already canonical input is unchanged.
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1}, FlipByStd(feature, []int{0, 0, 0, 1, 1, 1}))
}

func TestTag_Canonicalise(t *testing.T) {
	defer monitoring.Quiet()()

	// State 0 has the higher mean, state 1 the larger spread.
	series := []float64{5, 5, 5, 0, 1, 2}
	two := &fakeDecoder{decodings: map[int]Decoding{
		2: {States: 2, Labels: []int{0, 0, 0, 1, 1, 1}, ParamCount: 4},
	}}

	res, err := (&Tagger{Decoder: two, Candidates: []int{2}}).Tag(series)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 0, 0, 0}, res.Labels)

	res, err = (&Tagger{Decoder: two, Candidates: []int{2}, Canonicalise: ByStd}).Tag(series)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1}, res.Labels)

	// Three-state decodes always rank by mean.
	three := &fakeDecoder{decodings: map[int]Decoding{
		3: {States: 3, Labels: []int{0, 0, 0, 1, 2, 2}, ParamCount: 7},
	}}
	res, err = (&Tagger{Decoder: three, Candidates: []int{3}, Canonicalise: ByStd}).Tag(series)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 0, 0, 0}, res.Labels)
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check([]int{0, 1, 1}))
	assert.ErrorIs(t, Check([]int{0, 0, 0}), ErrDegenerateTagging)
	assert.ErrorIs(t, Check(nil), ErrDegenerateTagging)
}

func TestTag_WithHMMIsBinaryAndOrdered(t *testing.T) {
	defer monitoring.Quiet()()

	rng := rand.New(rand.NewPCG(11, 11))
	var series []float64
	for b := 0; b < 6; b++ {
		level := 0.05
		if b%2 == 1 {
			level = 2
		}
		for i := 0; i < 40; i++ {
			series = append(series, level+0.03*rng.NormFloat64())
		}
	}

	res, err := NewTagger().Tag(series)
	require.NoError(t, err)
	require.Len(t, res.Labels, len(series))
	require.NoError(t, Check(res.Labels))
	assert.Contains(t, []int{2, 3}, res.States)

	var sum [2]float64
	var n [2]int
	for i, l := range res.Labels {
		require.Contains(t, []int{0, 1}, l)
		sum[l] += series[i]
		n[l]++
	}
	assert.GreaterOrEqual(t, sum[1]/float64(n[1]), sum[0]/float64(n[0]))

	// Every high block sample is active.
	for i := 40; i < 80; i++ {
		assert.Equal(t, 1, res.Labels[i], "sample %d", i)
	}
}
