package monitoring

import "math"

// TradingDaysPerYear annualizes daily statistics.
const TradingDaysPerYear = 252

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdDev is the population standard deviation.
func stdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sq float64
	for _, x := range xs {
		sq += (x - m) * (x - m)
	}
	return math.Sqrt(sq / float64(len(xs)))
}

// annualize returns (annualized return, annualized volatility, sharpe) for a
// series of daily returns. Sharpe is 0 when volatility is 0.
func annualize(daily []float64) (ret, vol, sharpe float64) {
	ret = mean(daily) * TradingDaysPerYear
	vol = stdDev(daily) * math.Sqrt(TradingDaysPerYear)
	if vol != 0 {
		sharpe = ret / vol
	}
	return ret, vol, sharpe
}
