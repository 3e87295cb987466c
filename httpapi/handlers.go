package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/blockberries/lootbox/types"
)

type mintRequest struct {
	Kind      string        `json:"kind"`
	ID        uint32        `json:"id"`
	Recipient types.Account `json:"recipient"`
	Amount    uint64        `json:"amount"`
}

type mintResponse struct {
	Token     string `json:"token"`
	FromStock uint64 `json:"from_stock"`
	Fresh     uint64 `json:"fresh"`
	Minted    uint64 `json:"minted"`
}

type unpackRequest struct {
	Option types.OptionID `json:"option"`
	// Holder defaults to the authenticated caller.
	Holder *types.Account `json:"holder,omitempty"`
	Amount uint64         `json:"amount"`
}

type countJSON struct {
	Category types.CategoryID `json:"category"`
	Count    uint64           `json:"count"`
}

type unpackResponse struct {
	Receipt       string         `json:"receipt"`
	Option        types.OptionID `json:"option"`
	Holder        types.Account  `json:"holder"`
	BoxesConsumed uint64         `json:"boxes_consumed"`
	ItemsMinted   uint64         `json:"items_minted"`
	Totals        []countJSON    `json:"totals"`
	Draws         [][]countJSON  `json:"draws"`
}

type remainingResponse struct {
	Token     string `json:"token"`
	Remaining uint64 `json:"remaining"`
	Unlimited bool   `json:"unlimited"`
}

type balanceJSON struct {
	Token  string `json:"token"`
	Amount uint64 `json:"amount"`
}

func countsJSON(a types.Allocation) []countJSON {
	out := make([]countJSON, 0, len(a))
	for _, cc := range a {
		out = append(out, countJSON{Category: cc.Category, Count: cc.Count})
	}
	return out
}

// handleMint mints items or boxes on behalf of the authenticated caller.
func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	var req mintRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	var kind types.MintKind
	switch req.Kind {
	case "item":
		kind = types.MintItem
	case "box":
		kind = types.MintBox
	default:
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", `kind must be "item" or "box"`)
		return
	}
	if req.Recipient.IsZero() {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "recipient is required")
		return
	}

	res, err := s.svc.Mint(r.Context(), types.MintRequest{
		Caller:    caller,
		Kind:      kind,
		ID:        req.ID,
		Recipient: req.Recipient,
		Amount:    req.Amount,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, mintResponse{
		Token:     res.Token.String(),
		FromStock: res.FromStock,
		Fresh:     res.Fresh,
		Minted:    res.Minted,
	})
}

// handleUnpack opens boxes held by the caller or by an account the
// caller is a delegate of.
func (s *Server) handleUnpack(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	var req unpackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	holder := caller
	if req.Holder != nil {
		holder = *req.Holder
	}

	sum, err := s.svc.Unpack(r.Context(), types.UnpackRequest{
		Caller: caller,
		Option: req.Option,
		Holder: holder,
		Amount: req.Amount,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	resp := unpackResponse{
		Receipt:       sum.ReceiptID,
		Option:        sum.Option,
		Holder:        sum.Holder,
		BoxesConsumed: sum.BoxesConsumed,
		ItemsMinted:   sum.ItemsMinted,
		Totals:        countsJSON(sum.Totals),
	}
	for _, d := range sum.Draws {
		resp.Draws = append(resp.Draws, countsJSON(d))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.Info(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleCategoryRemaining(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	s.respondRemaining(w, r, types.ItemToken(types.CategoryID(id)))
}

func (s *Server) handleOptionRemaining(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	s.respondRemaining(w, r, types.BoxToken(types.OptionID(id)))
}

func (s *Server) respondRemaining(w http.ResponseWriter, r *http.Request, token types.TokenID) {
	n, err := s.svc.Remaining(r.Context(), token)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, remainingResponse{
		Token:     token.String(),
		Remaining: n,
		Unlimited: n == math.MaxUint64,
	})
}

func (s *Server) handleHeldBoxes(w http.ResponseWriter, r *http.Request) {
	holder, err := types.ParseAccount(chi.URLParam(r, "account"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid account")
		return
	}
	option, ok := parseID(w, chi.URLParam(r, "option"))
	if !ok {
		return
	}
	n, err := s.svc.HeldBoxes(r.Context(), holder, types.OptionID(option))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]uint64{"held": n})
}

// handleBalances reads ?tokens=item:1,box:0 for one holder.
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	holder, err := types.ParseAccount(chi.URLParam(r, "account"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid account")
		return
	}
	raw := r.URL.Query().Get("tokens")
	if raw == "" {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "tokens query parameter is required")
		return
	}
	var tokens []types.TokenID
	for _, part := range strings.Split(raw, ",") {
		t, err := types.ParseTokenID(part)
		if err != nil {
			respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
		tokens = append(tokens, t)
	}

	balances, err := s.svc.Balances(r.Context(), holder, tokens)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	out := make([]balanceJSON, 0, len(balances))
	for _, b := range balances {
		out = append(out, balanceJSON{Token: b.Token.String(), Amount: b.Amount})
	}
	respondJSON(w, http.StatusOK, out)
}

func parseID(w http.ResponseWriter, raw string) (uint32, bool) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid id")
		return 0, false
	}
	return uint32(id), true
}
