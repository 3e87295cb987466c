package types

import "fmt"

// MintKind selects what a mint request creates.
type MintKind uint8

const (
	// MintItem mints units of an item category.
	MintItem MintKind = 1
	// MintBox mints box units of a loot-box option.
	MintBox MintKind = 2
)

func (k MintKind) String() string {
	switch k {
	case MintItem:
		return "item"
	case MintBox:
		return "box"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// MintRequest asks the engine to mint items or boxes.
type MintRequest struct {
	Caller Account  `cramberry:"1"`
	Kind   MintKind `cramberry:"2"`
	// ID is a CategoryID for MintItem or an OptionID for MintBox.
	ID        uint32  `cramberry:"3"`
	Recipient Account `cramberry:"4"`
	Amount    uint64  `cramberry:"5"`
}

// Token resolves the ledger token the request targets.
func (r MintRequest) Token() TokenID {
	if r.Kind == MintBox {
		return BoxToken(OptionID(r.ID))
	}
	return ItemToken(CategoryID(r.ID))
}

// MintResult reports a completed mint.
type MintResult struct {
	Token TokenID `cramberry:"1"`
	// FromStock is the part drawn from the owner's pre-minted stock.
	FromStock uint64 `cramberry:"2"`
	// Fresh is the part credited as new units.
	Fresh uint64 `cramberry:"3"`
	// Minted is the token's cumulative minted counter after this mint.
	Minted uint64 `cramberry:"4"`
}

// UnpackRequest asks the engine to open boxes. Boxes are taken from
// Holder; Caller must be Holder or one of its delegates.
type UnpackRequest struct {
	Caller Account  `cramberry:"1"`
	Option OptionID `cramberry:"2"`
	Holder Account  `cramberry:"3"`
	Amount uint64   `cramberry:"4"`
}

// UnpackSummary is the aggregated result of one unpack call.
type UnpackSummary struct {
	ReceiptID     string     `cramberry:"1"`
	Option        OptionID   `cramberry:"2"`
	Holder        Account    `cramberry:"3"`
	BoxesConsumed uint64     `cramberry:"4"`
	ItemsMinted   uint64     `cramberry:"5"`
	Totals        Allocation `cramberry:"6"`
	// Draws holds the allocation of each box, in order.
	Draws []Allocation `cramberry:"7"`
}

// Balance is one entry of a batch balance read.
type Balance struct {
	Token  TokenID `cramberry:"1"`
	Amount uint64  `cramberry:"2"`
}

// Info describes an engine's catalog.
type Info struct {
	Name       string     `cramberry:"1"`
	Symbol     string     `cramberry:"2"`
	Owner      Account    `cramberry:"3"`
	NumOptions uint32     `cramberry:"4"`
	Categories []Category `cramberry:"5"`
	Options    []Option   `cramberry:"6"`
}
