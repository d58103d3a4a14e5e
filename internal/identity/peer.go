// Package identity normalizes raw peer records into the single view-model
// every other component consumes, so business-account detection happens in
// exactly one place.
package identity

import "strings"

// RawPeer is a peer record as fetched from the backend. Personal and
// business accounts populate different subsets of these fields.
type RawPeer struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	AvatarURL       string `json:"avatar_url"`
	AccountType     string `json:"account_type"`
	BusinessName    string `json:"business_name"`
	BusinessLogoURL string `json:"business_logo_url"`
}

// PeerView is the canonical projection of a peer.
type PeerView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	IsBusiness  bool   `json:"is_business"`
}

// Normalize derives the canonical view for a raw peer record. Business
// identity wins over personal fields; the fallback chain for the display
// name ends at the peer id so the result is never empty.
func Normalize(raw RawPeer) PeerView {
	isBusiness := strings.EqualFold(raw.AccountType, "business") || raw.BusinessName != ""

	name := ""
	avatar := raw.AvatarURL
	if isBusiness {
		name = raw.BusinessName
		if raw.BusinessLogoURL != "" {
			avatar = raw.BusinessLogoURL
		}
	}
	if name == "" {
		name = strings.TrimSpace(raw.FirstName + " " + raw.LastName)
	}
	if name == "" {
		name = raw.Username
	}
	if name == "" {
		name = raw.ID
	}

	return PeerView{
		ID:          raw.ID,
		DisplayName: name,
		AvatarURL:   avatar,
		IsBusiness:  isBusiness,
	}
}
