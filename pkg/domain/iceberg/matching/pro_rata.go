package matching

const ProRataName = "pro-rata"

// ProRata は表示数量に比例して約定を割り当てます
type ProRata struct{}

func (ProRata) Allocate(size float64, candidates []Candidate) []Allocation {
	total := 0.0
	for _, c := range candidates {
		total += max(c.Available, 0)
	}
	if total <= 0 || size <= 0 {
		return nil
	}

	out := make([]Allocation, 0, len(candidates))
	for _, c := range candidates {
		if c.Available <= 0 {
			continue
		}
		a := min(size*c.Available/total, c.Available)
		out = append(out, Allocation{OrderID: c.OrderID, Size: a})
	}
	return out
}

func init() {
	Register(ProRataName, ProRata{})
}
