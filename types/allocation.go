package types

// CategoryCount is a quantity of one category.
type CategoryCount struct {
	Category CategoryID `cramberry:"1"`
	Count    uint64     `cramberry:"2"`
}

// Allocation maps categories to counts, in guarantee-table order.
type Allocation []CategoryCount

// Total returns the sum of all counts.
func (a Allocation) Total() uint64 {
	var sum uint64
	for _, cc := range a {
		sum += cc.Count
	}
	return sum
}

// Count returns the allocated count for c (0 if absent).
func (a Allocation) Count(c CategoryID) uint64 {
	for _, cc := range a {
		if cc.Category == c {
			return cc.Count
		}
	}
	return 0
}

// Add merges other into a, keeping first-seen order.
func (a Allocation) Add(other Allocation) Allocation {
	for _, cc := range other {
		found := false
		for i := range a {
			if a[i].Category == cc.Category {
				a[i].Count += cc.Count
				found = true
				break
			}
		}
		if !found {
			a = append(a, cc)
		}
	}
	return a
}

// MintLine is a quantity of one token destined for one recipient.
type MintLine struct {
	Token     TokenID `cramberry:"1"`
	Recipient Account `cramberry:"2"`
	Amount    uint64  `cramberry:"3"`
}
