package matching

const EvenSplitName = "even"

// EvenSplit は約定サイズを候補数で均等に割り、各注文の表示数量で頭打ちにします
type EvenSplit struct{}

func (EvenSplit) Allocate(size float64, candidates []Candidate) []Allocation {
	if len(candidates) == 0 || size <= 0 {
		return nil
	}
	per := size / float64(len(candidates))

	out := make([]Allocation, 0, len(candidates))
	for _, c := range candidates {
		if a := min(per, c.Available); a > 0 {
			out = append(out, Allocation{OrderID: c.OrderID, Size: a})
		}
	}
	return out
}

func init() {
	Register(EvenSplitName, EvenSplit{})
}
