package slots

import (
	"github.com/shopspring/decimal"
)

// Distribute 把 total 拆成 n 个分期金额，总和严格等于 round(total, 2)
//
// 每个分期先取 floor(total/n) 到分，剩余的分按顺序给前面的分期各加 0.01。
func Distribute(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return []decimal.Decimal{}
	}
	if total.IsNegative() {
		total = decimal.Zero
	}

	// 用整数分计算，避免浮点误差
	cents := total.Round(2).Shift(2).IntPart()
	base := cents / int64(n)
	leftover := cents - base*int64(n)

	amounts := make([]decimal.Decimal, n)
	for i := range amounts {
		c := base
		if int64(i) < leftover {
			c++
		}
		amounts[i] = decimal.New(c, -2)
	}
	return amounts
}
