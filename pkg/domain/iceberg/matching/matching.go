// Package matching は約定プリントを板上の注文へ割り当てる方法（マッチング戦略）を提供します。
// 約定プリントからは取引所内の優先順位が分からないため、どの戦略も近似です
package matching

// Candidate は約定を割り当てる候補の注文です
type Candidate struct {
	OrderID   string
	Available float64 // 現在の表示数量
}

// Allocation は注文ごとの割り当て量です
type Allocation struct {
	OrderID string
	Size    float64
}

// Strategy は約定サイズを候補注文に割り当てます。
// 候補が空なら空のスライスを返すこと
type Strategy interface {
	Allocate(size float64, candidates []Candidate) []Allocation
}
