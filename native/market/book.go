package market

import "math/big"

// Position is a standing offer by one seller to sell a fixed amount of one
// token at a fixed price. The offered tokens are escrowed by the market for
// the lifetime of the position.
type Position struct {
	Token             [20]byte
	Seller            [20]byte
	AmountTokens      *big.Int
	PriceAttoPerToken *big.Int
}

// Clone returns a deep copy so callers can hold snapshots across mutations.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.AmountTokens = new(big.Int).Set(p.AmountTokens)
	clone.PriceAttoPerToken = new(big.Int).Set(p.PriceAttoPerToken)
	return &clone
}

// book stores sell positions in a compact arena plus a 1-based slot index
// keyed by (token, seller); 0 means absent. All operations are O(1) except
// enumeration. Removal swaps the last slot into the vacated one and patches
// the moved position's index entry, so enumeration order is unstable across
// any removal.
type book struct {
	values []*Position
	index  map[[20]byte]map[[20]byte]int
}

func newBook() *book {
	return &book{index: make(map[[20]byte]map[[20]byte]int)}
}

func (b *book) len() int { return len(b.values) }

func (b *book) at(i int) *Position { return b.values[i] }

func (b *book) slot(token, seller [20]byte) int {
	if sellers, ok := b.index[token]; ok {
		return sellers[seller]
	}
	return 0
}

func (b *book) get(token, seller [20]byte) (*Position, bool) {
	slot := b.slot(token, seller)
	if slot == 0 {
		return nil, false
	}
	return b.values[slot-1], true
}

// insert assumes no position exists for the pair; callers check first.
func (b *book) insert(p *Position) {
	b.values = append(b.values, p)
	sellers, ok := b.index[p.Token]
	if !ok {
		sellers = make(map[[20]byte]int)
		b.index[p.Token] = sellers
	}
	sellers[p.Seller] = len(b.values)
}

// remove deletes the pair's position by swapping the last slot into its
// place, then truncating the arena.
func (b *book) remove(token, seller [20]byte) {
	slot := b.slot(token, seller)
	if slot == 0 {
		return
	}
	last := len(b.values)
	if slot != last {
		moved := b.values[last-1]
		b.values[slot-1] = moved
		b.index[moved.Token][moved.Seller] = slot
	}
	b.values[last-1] = nil
	b.values = b.values[:last-1]
	delete(b.index[token], seller)
	if len(b.index[token]) == 0 {
		delete(b.index, token)
	}
}
