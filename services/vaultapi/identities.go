package vaultapi

import (
	"net/http"
	"sort"

	"evovault/core/identity"
)

type publicKeyView struct {
	ID            uint32 `json:"id"`
	Purpose       string `json:"purpose"`
	SecurityLevel string `json:"security_level"`
	Type          string `json:"type"`
	ReadOnly      bool   `json:"read_only"`
	Disabled      bool   `json:"disabled"`
	HasPrivateKey bool   `json:"has_private_key"`
}

type topUpView struct {
	Index  uint32 `json:"index"`
	Amount uint32 `json:"amount"`
}

type identityView struct {
	ID          identity.Identifier `json:"id"`
	Alias       *string             `json:"alias,omitempty"`
	DisplayName string              `json:"display_name"`
	Type        string              `json:"type"`
	Balance     uint64              `json:"balance"`
	Revision    uint64              `json:"revision"`
	PublicKeys  []publicKeyView     `json:"public_keys"`
	Wallet      string              `json:"wallet,omitempty"`
	WalletIndex *uint32             `json:"wallet_index,omitempty"`
	TopUps      []topUpView         `json:"top_ups"`
}

func newIdentityView(qi *identity.QualifiedIdentity) identityView {
	view := identityView{
		ID:          qi.ID,
		Alias:       qi.Alias,
		DisplayName: qi.DisplayName(),
		Type:        qi.Type.String(),
		Balance:     qi.Balance,
		Revision:    qi.Revision,
		PublicKeys:  make([]publicKeyView, 0, len(qi.PublicKeys)),
		WalletIndex: qi.WalletIndex,
		TopUps:      make([]topUpView, 0, len(qi.TopUps)),
	}
	if qi.Wallet != nil {
		view.Wallet = qi.Wallet.SeedHash.String()
	}
	for _, key := range qi.PublicKeys {
		view.PublicKeys = append(view.PublicKeys, publicKeyView{
			ID:            key.ID,
			Purpose:       key.Purpose.String(),
			SecurityLevel: key.SecurityLevel.String(),
			Type:          key.Type.String(),
			ReadOnly:      key.ReadOnly,
			Disabled:      key.Disabled(),
			HasPrivateKey: qi.HasPrivateKey(identity.KeyRef{Purpose: key.Purpose, KeyID: key.ID}),
		})
	}
	sort.Slice(view.PublicKeys, func(i, j int) bool { return view.PublicKeys[i].ID < view.PublicKeys[j].ID })
	for index, amount := range qi.TopUps {
		view.TopUps = append(view.TopUps, topUpView{Index: index, Amount: amount})
	}
	sort.Slice(view.TopUps, func(i, j int) bool { return view.TopUps[i].Index < view.TopUps[j].Index })
	return view
}

// ListIdentities returns the local identities on the network, optionally
// filtered by ?type=any|user|other.
func (s *Server) ListIdentities(w http.ResponseWriter, r *http.Request) {
	filter := identity.TypeAny
	if raw := r.URL.Query().Get("type"); raw != "" {
		parsed, err := identity.ParseTypeFilter(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter = parsed
	}
	identities, err := s.identities.LocalIdentities(r.Context(), networkFrom(r.Context()), filter, s.wallets)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]identityView, 0, len(identities))
	for _, qi := range identities {
		views = append(views, newIdentityView(qi))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"identities": views})
}

// GetIdentity returns one local identity.
func (s *Server) GetIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := parseIdentifier(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	qi, err := s.identities.LocalIdentity(r.Context(), networkFrom(r.Context()), id, s.wallets)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newIdentityView(qi))
}

// SetAlias sets or clears (empty alias) the display alias of an identity.
func (s *Server) SetAlias(w http.ResponseWriter, r *http.Request) {
	id, err := parseIdentifier(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req struct {
		Alias string `json:"alias"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.identities.SetAlias(r.Context(), id, req.Alias); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveIdentity deletes the local record. 404 when there was nothing local
// to delete.
func (s *Server) RemoveIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := parseIdentifier(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	removed, err := s.identities.RemoveLocal(r.Context(), networkFrom(r.Context()), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !removed {
		s.writeError(w, http.StatusNotFound, "local identity not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordTopUp stores a top-up. A repeated index answers 200 with
// recorded=false.
func (s *Server) RecordTopUp(w http.ResponseWriter, r *http.Request) {
	id, err := parseIdentifier(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req struct {
		Index  *uint32 `json:"index"`
		Amount uint32  `json:"amount"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Index == nil {
		s.writeError(w, http.StatusBadRequest, "index is required")
		return
	}
	recorded, err := s.identities.RecordTopUp(r.Context(), id, *req.Index, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if recorded {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, map[string]bool{"recorded": recorded})
}
