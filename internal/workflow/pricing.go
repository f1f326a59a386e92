package workflow

// Percentages of an item's reference price.
const (
	AwardPercent      = 40
	RedemptionPercent = 60
)

// Award returns the points credited to a donor when their item is approved.
func Award(referencePrice int64) int64 {
	return percentOf(referencePrice, AwardPercent)
}

// RedemptionPrice returns the points an approved item costs to redeem.
func RedemptionPrice(referencePrice int64) int64 {
	return percentOf(referencePrice, RedemptionPercent)
}

// percentOf computes floor(v * pct / 100) for non-negative v without
// overflowing on large values.
func percentOf(v, pct int64) int64 {
	return v/100*pct + v%100*pct/100
}
