package model

// Identity mirrors the authenticated principal held by the identity provider.
// It is never written by the portal itself.
type Identity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

// Name returns the display name, or "User" when the provider has none.
func (i *Identity) Name() string {
	if i == nil || i.DisplayName == "" {
		return "User"
	}
	return i.DisplayName
}
