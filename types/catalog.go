package types

// Category is an item class with an optional supply cap.
type Category struct {
	ID   CategoryID `cramberry:"1"`
	Name string     `cramberry:"2"`
	// Cap is the maximum cumulative minted amount. Nil = unlimited.
	Cap *uint64 `cramberry:"3"`
	// InitialSupply is pre-minted to the owner at genesis. It does not
	// count against Cap; it is the stock that mints draw from first.
	InitialSupply uint64 `cramberry:"4"`
}

// Guarantee is one row of an option's guarantee table.
type Guarantee struct {
	Category CategoryID `cramberry:"1"`
	// Minimum quantity every unpack yields.
	Minimum uint64 `cramberry:"2"`
	// Relative weight for the randomized remainder. 0 = never drawn.
	Weight uint64 `cramberry:"3"`
	// MaxCap bounds the per-unpack allocation. Nil = unbounded.
	MaxCap *uint64 `cramberry:"4"`
}

// Option is a loot-box tier.
type Option struct {
	ID   OptionID `cramberry:"1"`
	Name string   `cramberry:"2"`
	// Total is the exact number of items one box yields.
	Total      uint64      `cramberry:"3"`
	Guarantees []Guarantee `cramberry:"4"`
	// BoxCap bounds the number of boxes ever minted. Nil = unlimited.
	BoxCap *uint64 `cramberry:"5"`
}

// GuaranteedSum returns the sum of all guaranteed minimums.
func (o Option) GuaranteedSum() uint64 {
	var sum uint64
	for _, g := range o.Guarantees {
		sum += g.Minimum
	}
	return sum
}

// Catalog is the full, validated configuration of an engine.
type Catalog struct {
	Name       string     `cramberry:"1"`
	Symbol     string     `cramberry:"2"`
	Owner      Account    `cramberry:"3"`
	Categories []Category `cramberry:"4"`
	Options    []Option   `cramberry:"5"`
}

// Category looks up a category by id.
func (c Catalog) Category(id CategoryID) (Category, bool) {
	for _, cat := range c.Categories {
		if cat.ID == id {
			return cat, true
		}
	}
	return Category{}, false
}

// Option looks up an option by id.
func (c Catalog) Option(id OptionID) (Option, bool) {
	for _, o := range c.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// Caps returns the supply cap of every token the catalog defines:
// item categories and the box pseudo-categories. Tokens absent from the
// map are unknown; a nil value means uncapped.
func (c Catalog) Caps() map[TokenID]*uint64 {
	caps := make(map[TokenID]*uint64, len(c.Categories)+len(c.Options))
	for _, cat := range c.Categories {
		caps[ItemToken(cat.ID)] = cat.Cap
	}
	for _, o := range c.Options {
		caps[BoxToken(o.ID)] = o.BoxCap
	}
	return caps
}

// Uint64 returns a pointer to v, for optional caps.
func Uint64(v uint64) *uint64 { return &v }
