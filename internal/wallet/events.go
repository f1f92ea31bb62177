package wallet

// Event payloads published on the wallet event bus.

// BalanceEvent carries the three derived balance counters.
type BalanceEvent struct {
	Available uint64 `json:"available"`
	Pending   uint64 `json:"pending"`
	Total     uint64 `json:"total"`
}

// ReadyEvent is published once sync completes.
type ReadyEvent struct {
	Available           uint64 `json:"available"`
	Pending             uint64 `json:"pending"`
	Total               uint64 `json:"total"`
	ConfirmedUtxosCount int    `json:"confirmedUtxosCount"`
}

// NewAddressEvent announces a freshly reserved address on a chain.
type NewAddressEvent struct {
	Address string      `json:"address"`
	Kind    AddressKind `json:"kind"`
}

// BlueScoreEvent carries a virtual chain blue score update.
type BlueScoreEvent struct {
	BlueScore uint64 `json:"blueScore"`
}

// StateUpdateEvent announces a change to the transaction log.
type StateUpdateEvent struct {
	TxId   string    `json:"txId"`
	Record *TxRecord `json:"record"`
}

// DebugInfoEvent carries free-form diagnostics for UI consumers.
type DebugInfoEvent struct {
	Message string `json:"message"`
}
