// Package access resolves whether a caller may act for an owner.
//
// Authorization is a capability test over a fixed set of variants: the
// owner itself, or a delegate registered in the external registry. The
// Gate is the only place that knows about the variants; callers just ask
// it for a Grant.
package access

import (
	"context"
	"fmt"

	"github.com/blockberries/lootbox"
	"github.com/blockberries/lootbox/types"
)

// Kind names the variant that granted an authorization.
type Kind uint8

const (
	KindOwner Kind = iota + 1
	KindDelegatedProxy
)

func (k Kind) String() string {
	switch k {
	case KindOwner:
		return "owner"
	case KindDelegatedProxy:
		return "delegated_proxy"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Authority is one way a caller can be authorized for an owner.
type Authority interface {
	Kind() Kind

	// CanAuthorize reports whether caller may act for owner. It must not
	// mutate anything.
	CanAuthorize(ctx context.Context, caller, owner types.Account) (bool, error)
}

// Owner authorizes the owner acting for itself.
type Owner struct{}

func (Owner) Kind() Kind { return KindOwner }

func (Owner) CanAuthorize(_ context.Context, caller, owner types.Account) (bool, error) {
	return caller == owner, nil
}

// DelegatedProxy authorizes callers the registry lists as delegates of
// the owner.
type DelegatedProxy struct {
	Registry lootbox.Registry
}

func (DelegatedProxy) Kind() Kind { return KindDelegatedProxy }

func (p DelegatedProxy) CanAuthorize(ctx context.Context, caller, owner types.Account) (bool, error) {
	if p.Registry == nil {
		return false, nil
	}
	return p.Registry.IsDelegate(ctx, owner, caller)
}

// Grant records a successful authorization.
type Grant struct {
	Caller types.Account
	Owner  types.Account
	Via    Kind
}

// Gate checks callers against an ordered list of authorities.
type Gate struct {
	authorities []Authority
}

// NewGate returns a gate accepting the owner and, when registry is
// non-nil, the owner's registered delegates.
func NewGate(registry lootbox.Registry) *Gate {
	as := []Authority{Owner{}}
	if registry != nil {
		as = append(as, DelegatedProxy{Registry: registry})
	}
	return &Gate{authorities: as}
}

// NewGateWith builds a gate from explicit authorities, tried in order.
func NewGateWith(authorities ...Authority) *Gate {
	return &Gate{authorities: authorities}
}

// Authorize returns a Grant if caller may act for owner, or an error
// matching lootbox.ErrUnauthorized. A registry failure is returned as
// is; it is never reported as an authorization decision.
func (g *Gate) Authorize(ctx context.Context, caller, owner types.Account) (Grant, error) {
	if caller.IsZero() {
		return Grant{}, lootbox.NewError(lootbox.CodeUnauthorized, "empty caller")
	}
	for _, a := range g.authorities {
		ok, err := a.CanAuthorize(ctx, caller, owner)
		if err != nil {
			return Grant{}, fmt.Errorf("access: %s lookup: %w", a.Kind(), err)
		}
		if ok {
			return Grant{Caller: caller, Owner: owner, Via: a.Kind()}, nil
		}
	}
	return Grant{}, lootbox.WithMetadata(lootbox.CodeUnauthorized,
		fmt.Sprintf("%s is neither %s nor a delegate of it", caller, owner),
		map[string]string{"caller": caller.String(), "owner": owner.String()})
}
