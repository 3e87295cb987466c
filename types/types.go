// Package types defines the core data types of the lootbox engine:
// accounts, token identifiers, catalog entries, allocations, requests
// and events.
//
// These are plain Go structs with cramberry struct tags for
// deterministic binary serialization. Transport concerns
// (gRPC codec registration) are handled in the transport packages.
package types

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Account is a 20-byte ledger address.
type Account [20]byte

// ZeroAccount is the empty address. It never owns or holds anything.
var ZeroAccount Account

// ParseAccount decodes a hex address, with or without a 0x prefix.
func ParseAccount(s string) (Account, error) {
	var a Account
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(s) != 2*len(a) {
		return a, fmt.Errorf("account %q: want %d hex chars, got %d", s, 2*len(a), len(s))
	}
	if _, err := hex.Decode(a[:], []byte(s)); err != nil {
		return a, fmt.Errorf("account %q: %w", s, err)
	}
	return a, nil
}

// MustAccount is ParseAccount for constants and tests.
func MustAccount(s string) Account {
	a, err := ParseAccount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the 0x-prefixed lowercase hex form.
func (a Account) String() string { return "0x" + hex.EncodeToString(a[:]) }

// IsZero reports whether a is the zero address.
func (a Account) IsZero() bool { return a == ZeroAccount }

// MarshalText implements encoding.TextMarshaler.
func (a Account) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Account) UnmarshalText(b []byte) error {
	parsed, err := ParseAccount(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// CategoryID identifies an item category (e.g. a rarity tier or an item
// class). Category ids live below 1<<32 in the token namespace.
type CategoryID uint32

// OptionID identifies a loot-box tier.
type OptionID uint32

// TokenID is the ledger-level identifier of a fungible balance. Item
// categories and box options share one namespace: categories map to
// themselves, options map to BoxToken.
type TokenID uint64

// boxTokenBase marks the reserved pseudo-categories of box options.
const boxTokenBase TokenID = 1 << 32

// ItemToken returns the token of an item category.
func ItemToken(c CategoryID) TokenID { return TokenID(c) }

// BoxToken returns the reserved pseudo-category token for an option.
func BoxToken(o OptionID) TokenID { return boxTokenBase | TokenID(o) }

// IsBox reports whether t is a box option token.
func (t TokenID) IsBox() bool { return t&boxTokenBase != 0 }

// Category returns the item category of t. Only meaningful if !t.IsBox().
func (t TokenID) Category() CategoryID { return CategoryID(t) }

// Option returns the option of a box token. Only meaningful if t.IsBox().
func (t TokenID) Option() OptionID { return OptionID(t &^ boxTokenBase) }

// String renders "item:<id>" or "box:<id>".
func (t TokenID) String() string {
	if t.IsBox() {
		return fmt.Sprintf("box:%d", t.Option())
	}
	return fmt.Sprintf("item:%d", t.Category())
}

// ParseTokenID parses the "item:<id>" or "box:<id>" form produced by
// String.
func ParseTokenID(s string) (TokenID, error) {
	kind, num, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("token %q: want item:<id> or box:<id>", s)
	}
	id, err := strconv.ParseUint(num, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("token %q: %w", s, err)
	}
	switch kind {
	case "item":
		return ItemToken(CategoryID(id)), nil
	case "box":
		return BoxToken(OptionID(id)), nil
	default:
		return 0, fmt.Errorf("token %q: unknown kind %q", s, kind)
	}
}
