package storage

// identityRow mirrors the identity table. Identifiers and wallet seed hashes
// are stored as raw bytes.
type identityRow struct {
	ID           []byte  `gorm:"column:id;primaryKey"`
	Network      string  `gorm:"column:network;primaryKey;size:16"`
	Data         []byte  `gorm:"column:data"`
	IsLocal      bool    `gorm:"column:is_local;not null;index"`
	Alias        *string `gorm:"column:alias"`
	IdentityType string  `gorm:"column:identity_type;size:16;not null"`
	IsInCreation bool    `gorm:"column:is_in_creation;not null"`
	Wallet       []byte  `gorm:"column:wallet"`
	WalletIndex  *uint32 `gorm:"column:wallet_index"`
}

func (identityRow) TableName() string { return "identity" }

// topUpRow mirrors the top_up child table keyed by identifier only; top-ups
// are not scoped by network.
type topUpRow struct {
	IdentityID []byte `gorm:"column:identity_id;primaryKey"`
	TopUpIndex uint32 `gorm:"column:top_up_index;primaryKey;autoIncrement:false"`
	Amount     uint32 `gorm:"column:amount;not null"`
}

func (topUpRow) TableName() string { return "top_up" }

func allModels() []any {
	return []any{&identityRow{}, &topUpRow{}}
}
