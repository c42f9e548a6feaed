package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"33.33", 3333},
		{"33.335", 3334},
		{"100", 10000},
		{"0.01", 1},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ToMinorUnits(d(tt.in)))
		})
	}
	assert.True(t, d("12.34").Equal(FromMinorUnits(1234)))
}

func TestSettledAndOpen(t *testing.T) {
	assert.True(t, Settled(d("0.01")))
	assert.True(t, Settled(d("-3")))
	assert.False(t, Settled(d("0.02")))

	assert.True(t, d("5").Equal(Open(d("20"), d("15"))))
	assert.True(t, Open(d("20"), d("25")).IsZero())
	assert.True(t, d("30.5").Equal(Sum(d("10"), d("20.5"))))
	assert.True(t, Sum().IsZero())
	assert.True(t, d("1.24").Equal(Round2(d("1.235"))))
}
