package domain

import "time"

// Wallet is the top-level ownership boundary. Every syncable entity belongs
// to exactly one wallet. Wallets are not themselves wallet-scoped and use
// hard delete only.
type Wallet struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
	Icon      string    `json:"icon,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IsDefault bool      `json:"is_default"`
}

type CreateWalletRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Currency string `json:"currency" validate:"required,len=3"`
	Icon     string `json:"icon,omitempty"`
}

type UpdateWalletRequest struct {
	Name     string `json:"name,omitempty"`
	Currency string `json:"currency,omitempty"`
	Icon     string `json:"icon,omitempty"`
}

type WalletResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
	Icon      string    `json:"icon,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IsDefault bool      `json:"is_default"`
}

// WalletRole is the membership role returned in a Scope record.
type WalletRole string

const (
	RoleOwner  WalletRole = "owner"
	RoleMember WalletRole = "member"
)

// WalletMember records one user's membership of one wallet.
type WalletMember struct {
	WalletID string     `json:"wallet_id"`
	UserID   string     `json:"user_id"`
	Role     WalletRole `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}
