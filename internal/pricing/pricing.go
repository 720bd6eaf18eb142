// Package pricing computes the delivery cost of a package and holds the
// bank-rounding helpers used for every stored quantity.
package pricing

import "github.com/shopspring/decimal"

const (
	// WeightFactor is the RUB-per-USD-rate charge per kilogram.
	WeightFactor = 0.5
	// ValueFactor is the share of the declared content value charged.
	ValueFactor = 0.01
)

// DeliveryCost returns (weight*0.5 + value*0.01) * rate rounded half-to-even
// to 2 decimals. It returns nil when the rate is unknown (ok == false) so
// callers can tell "not yet priced" apart from zero.
func DeliveryCost(weightKg, contentValue, rate float64, ok bool) *float64 {
	if !ok {
		return nil
	}

	w := decimal.NewFromFloat(weightKg).Mul(decimal.NewFromFloat(WeightFactor))
	v := decimal.NewFromFloat(contentValue).Mul(decimal.NewFromFloat(ValueFactor))
	cost := w.Add(v).Mul(decimal.NewFromFloat(rate)).RoundBank(2)

	f := cost.InexactFloat64()
	return &f
}

// Round2 rounds half-to-even to 2 decimals (currency amounts).
func Round2(v float64) float64 {
	return round(v, 2)
}

// Round3 rounds half-to-even to 3 decimals (weights).
func Round3(v float64) float64 {
	return round(v, 3)
}

// round works on the shortest decimal form of v, so 2.675 rounds as the
// decimal 2.675 and not as its binary approximation.
func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).RoundBank(places).InexactFloat64()
}
