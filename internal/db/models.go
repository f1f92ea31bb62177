package db

import (
	"time"
)

// TxRecord is the append-only log of transactions relevant to this wallet.
type TxRecord struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TxId         string    `gorm:"not null;uniqueIndex" json:"tx_id"`
	Direction    string    `gorm:"not null" json:"direction"` // "in", "out"
	Amount       uint64    `gorm:"not null" json:"amount"`    // sompi
	Address      string    `gorm:"not null" json:"address"`   // counterparty address
	Note         string    `json:"note"`
	BlueScore    uint64    `gorm:"not null" json:"blue_score"` // blue score at observation
	RawTx        string    `json:"raw_tx"`                     // wire form, JSON encoded
	SelfTransfer bool      `gorm:"not null" json:"self_transfer"`
	Timestamp    int64     `gorm:"not null" json:"timestamp"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

// ReservedOutpoint persists the in-use reservation list so in-flight spends
// survive a restart. This is the only part of the UTXO cache that restores.
type ReservedOutpoint struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Outpoint  string    `gorm:"not null;uniqueIndex" json:"outpoint"` // "txid:index"
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// WalletMeta holds the wallet identity (only 1 record).
type WalletMeta struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Uid           string    `gorm:"not null" json:"uid"`
	Network       string    `gorm:"not null" json:"network"`
	LastBlueScore uint64    `gorm:"not null" json:"last_blue_score"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}
