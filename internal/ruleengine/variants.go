package ruleengine

// SelectVariant maps a bucket onto the flag's ordered variant list by
// cumulative weight. The bucket is wrapped into [1, totalWeight] so the
// assignment stays deterministic for any weight sum, then the first variant
// whose cumulative boundary reaches the wrapped value wins.
//
// A zero total weight falls back to the first variant; the last variant is
// the catch-all for rounding edge cases. Empty lists yield "".
func SelectVariant(variants []Variant, bucket int) string {
	if len(variants) == 0 {
		return ""
	}

	total := 0
	for _, v := range variants {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	if total <= 0 {
		return variants[0].Key
	}

	wrapped := (bucket-1)%total + 1

	cumulative := 0
	for _, v := range variants {
		if v.Weight <= 0 {
			continue
		}
		cumulative += v.Weight
		if cumulative >= wrapped {
			return v.Key
		}
	}
	return variants[len(variants)-1].Key
}
