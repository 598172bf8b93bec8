package cpmm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/pointsmarket/internal/domain"
)

// relTol is the relative tolerance for the constant-product invariant.
const relTol = 1e-9

func TestBuy_YesExample(t *testing.T) {
	// Seeded 100/100 (k=10000), 50 points on YES:
	// sharesOut = 100 - 10000/150 = 33.333..., reserves (66.667, 150).
	q, err := Buy(100, 100, 50, domain.SideYes)
	require.NoError(t, err)

	assert.InDelta(t, 100-10000.0/150, q.SharesOut, 1e-9)
	assert.InDelta(t, 10000.0/150, q.NewYes, 1e-9)
	assert.InDelta(t, 150, q.NewNo, 1e-9)
	assert.InDelta(t, 150.0/(10000.0/150+150), q.PriceYes, 1e-9)
	assert.InDelta(t, 0.6923, q.PriceYes, 1e-4)
	assert.InDelta(t, 50/q.SharesOut, q.AvgPrice, 1e-9)
}

func TestBuy_NoIsSymmetric(t *testing.T) {
	qYes, err := Buy(80, 120, 30, domain.SideYes)
	require.NoError(t, err)
	qNo, err := Buy(120, 80, 30, domain.SideNo)
	require.NoError(t, err)

	assert.InDelta(t, qYes.SharesOut, qNo.SharesOut, 1e-12)
	assert.InDelta(t, qYes.NewYes, qNo.NewNo, 1e-12)
	assert.InDelta(t, qYes.NewNo, qNo.NewYes, 1e-12)
}

func TestBuy_PreservesProduct(t *testing.T) {
	cases := []struct {
		name      string
		yes, no   float64
		points    float64
		side      domain.Side
	}{
		{"balanced small", 100, 100, 1, domain.SideYes},
		{"balanced large", 100, 100, 10000, domain.SideYes},
		{"skewed yes", 10, 1000, 50, domain.SideYes},
		{"skewed no", 1000, 10, 50, domain.SideNo},
		{"tiny stake", 500, 300, 0.0001, domain.SideNo},
		{"fractional reserves", 33.33, 66.67, 12.5, domain.SideYes},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kBefore := tc.yes * tc.no
			q, err := Buy(tc.yes, tc.no, tc.points, tc.side)
			require.NoError(t, err)

			kAfter := q.NewYes * q.NewNo
			assert.InEpsilon(t, kBefore, kAfter, relTol,
				"constant product drifted: before=%v after=%v", kBefore, kAfter)
		})
	}
}

func TestBuy_MonotonicReserves(t *testing.T) {
	// Buying YES strictly decreases the YES reserve and strictly increases
	// the NO reserve; shares issued are strictly positive.
	yes, no := 250.0, 175.0
	for _, points := range []float64{0.01, 1, 10, 100, 5000} {
		q, err := Buy(yes, no, points, domain.SideYes)
		require.NoError(t, err)
		assert.Less(t, q.NewYes, yes)
		assert.Greater(t, q.NewNo, no)
		assert.Greater(t, q.SharesOut, 0.0)
	}
}

func TestBuy_SequentialTradesKeepInvariant(t *testing.T) {
	yes, no := 100.0, 100.0
	k := yes * no

	sides := []domain.Side{domain.SideYes, domain.SideNo, domain.SideYes, domain.SideYes, domain.SideNo}
	for i, side := range sides {
		q, err := Buy(yes, no, float64(7*(i+1)), side)
		require.NoError(t, err)
		yes, no = q.NewYes, q.NewNo

		assert.InEpsilon(t, k, yes*no, relTol)
		assert.InDelta(t, 1.0, q.PriceYes+q.PriceNo, 1e-12)
	}
}

func TestBuy_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yes, no float64
		points  float64
		side    domain.Side
		want    error
	}{
		{"zero stake", 100, 100, 0, domain.SideYes, domain.ErrInvalidStake},
		{"negative stake", 100, 100, -5, domain.SideYes, domain.ErrInvalidStake},
		{"bad side", 100, 100, 10, domain.Side("maybe"), domain.ErrInvalidSide},
		{"zero yes reserve", 0, 100, 10, domain.SideYes, domain.ErrInvariantViolation},
		{"negative no reserve", 100, -1, 10, domain.SideNo, domain.ErrInvariantViolation},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Buy(tc.yes, tc.no, tc.points, tc.side)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestPrice_Complement(t *testing.T) {
	for _, r := range [][2]float64{{100, 100}, {1, 999}, {66.67, 150}, {1e6, 3}} {
		pYes := Price(r[0], r[1], domain.SideYes)
		pNo := Price(r[0], r[1], domain.SideNo)
		assert.InDelta(t, 1.0, pYes+pNo, 1e-12)
		assert.False(t, math.IsNaN(pYes))
	}
}

func TestPriceYes_OpposingReserveConvention(t *testing.T) {
	// More NO reserve means YES is more likely, so YES trades rich.
	assert.Greater(t, PriceYes(50, 150), 0.5)
	assert.Less(t, PriceYes(150, 50), 0.5)
	assert.InDelta(t, 0.5, PriceYes(100, 100), 1e-12)
}
