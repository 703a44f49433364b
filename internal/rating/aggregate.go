package rating

import (
	"github.com/shopspring/decimal"
)

// RoundMean is the displayed psychiatrist rating: the mean of every star value
// rounded half away from zero to one decimal. An empty list rates 0.
func RoundMean(values []int32) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum int64
	for _, v := range values {
		sum += int64(v)
	}

	mean := decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(len(values)))).Round(1)
	return mean.InexactFloat64()
}
