package money

import "github.com/shopspring/decimal"

// Epsilon 金额比较的容差（0.01 货币单位）
var Epsilon = decimal.New(1, -2)

var Dec100 = decimal.NewFromInt(100)

// Round2 四舍五入到分
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// ToMinorUnits 转换为最小货币单位（分）
func ToMinorUnits(v decimal.Decimal) int64 {
	return v.Mul(Dec100).Round(0).IntPart()
}

// FromMinorUnits 从最小货币单位转换
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Div(Dec100)
}

// Settled 判断剩余金额是否已经可以忽略
func Settled(open decimal.Decimal) bool {
	return open.LessThanOrEqual(Epsilon)
}

// Open 计算未付金额，不小于 0
func Open(due, paid decimal.Decimal) decimal.Decimal {
	open := due.Sub(paid)
	if open.IsNegative() {
		return decimal.Zero
	}
	return open
}

// Sum 求和
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
