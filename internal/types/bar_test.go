package types

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type BarTestSuite struct {
	suite.Suite
}

func TestBarSuite(t *testing.T) {
	suite.Run(t, new(BarTestSuite))
}

func (suite *BarTestSuite) TestDirectionSign() {
	suite.Equal(1.0, DirectionLong.Sign())
	suite.Equal(-1.0, DirectionShort.Sign())
	suite.Equal(0.0, DirectionNone.Sign())
}

func (suite *BarTestSuite) TestDirectionOpposite() {
	suite.Equal(DirectionShort, DirectionLong.Opposite())
	suite.Equal(DirectionLong, DirectionShort.Opposite())
	suite.Equal(DirectionNone, DirectionNone.Opposite())
}

func (suite *BarTestSuite) TestIndicatorSetReady() {
	tests := []struct {
		name     string
		set      IndicatorSet
		expected bool
	}{
		{
			name:     "all finite",
			set:      IndicatorSet{ATR: 2.0, Momentum: 60, FastMA: 100, SlowMA: 99},
			expected: true,
		},
		{
			name:     "nan atr",
			set:      IndicatorSet{ATR: math.NaN(), Momentum: 60, FastMA: 100, SlowMA: 99},
			expected: false,
		},
		{
			name:     "inf momentum",
			set:      IndicatorSet{ATR: 2.0, Momentum: math.Inf(1), FastMA: 100, SlowMA: 99},
			expected: false,
		},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			suite.Equal(tc.expected, tc.set.Ready())
		})
	}
}

func (suite *BarTestSuite) TestIndicatorSetBandsReady() {
	ready := IndicatorSet{BandUpper: 110, BandLower: 90}
	suite.True(ready.BandsReady())

	warming := IndicatorSet{BandUpper: math.NaN(), BandLower: math.NaN()}
	suite.False(warming.BandsReady())
}

func (suite *BarTestSuite) TestBarValid() {
	valid := Bar{Time: time.Now(), Open: 100, High: 105, Low: 98, Close: 102}
	suite.True(valid.Valid())

	nanClose := valid
	nanClose.Close = math.NaN()
	suite.False(nanClose.Valid())

	negativeLow := valid
	negativeLow.Low = -1
	suite.False(negativeLow.Valid())
}
