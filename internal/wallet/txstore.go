package wallet

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kasware/kaswalletd/internal/db"
	"github.com/kasware/kaswalletd/internal/types"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Transfer directions recorded in the store.
const (
	TxDirectionIn  = "in"
	TxDirectionOut = "out"
)

// TxRecord is one observed or locally originated transaction.
type TxRecord struct {
	Direction    string                `json:"direction"`
	Timestamp    int64                 `json:"timestamp"`
	TxId         string                `json:"txId"`
	Amount       uint64                `json:"amount"`
	Address      string                `json:"address"`
	Note         string                `json:"note"`
	BlueScore    uint64                `json:"blueScore"`
	Tx           *types.RpcTransaction `json:"tx,omitempty"`
	SelfTransfer bool                  `json:"selfTransfer"`
}

// TxStore is the append-only log of transactions relevant to this wallet,
// keyed by txid. Entries persist through the wallet database; the store has
// no operation that removes them.
type TxStore struct {
	mu    sync.Mutex
	byID  map[string]*TxRecord
	order []string

	walletDb *gorm.DB
}

// NewTxStore builds a store. walletDb may be nil for an ephemeral wallet.
func NewTxStore(walletDb *gorm.DB) *TxStore {
	return &TxStore{
		byID:     make(map[string]*TxRecord),
		walletDb: walletDb,
	}
}

// Append records a transaction. Appending an already known txid updates the
// stored fields but keeps its position.
func (t *TxStore) Append(rec *TxRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, known := t.byID[rec.TxId]; !known {
		t.order = append(t.order, rec.TxId)
	}
	t.byID[rec.TxId] = rec

	if t.walletDb == nil {
		return nil
	}
	model, err := recordToModel(rec)
	if err != nil {
		return err
	}
	result := t.walletDb.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_id"}},
		UpdateAll: true,
	}).Create(model)
	if result.Error != nil {
		log.Errorf("TxStore append %s error: %v", rec.TxId, result.Error)
		return result.Error
	}
	return nil
}

// Get returns the record for a txid, or nil.
func (t *TxStore) Get(txid string) *TxRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byID[txid]
}

// Has reports whether a txid is already recorded.
func (t *TxStore) Has(txid string) bool {
	return t.Get(txid) != nil
}

// Entries returns the records in append order.
func (t *TxStore) Entries() []*TxRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*TxRecord, 0, len(t.order))
	for _, txid := range t.order {
		out = append(out, t.byID[txid])
	}
	return out
}

// Restore loads the persisted log into memory.
func (t *TxStore) Restore() error {
	if t.walletDb == nil {
		return nil
	}
	var models []db.TxRecord
	if err := t.walletDb.Order("id asc").Find(&models).Error; err != nil {
		log.Errorf("TxStore restore error: %v", err)
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range models {
		rec, err := modelToRecord(&models[i])
		if err != nil {
			log.Warnf("TxStore skipping malformed record %s: %v", models[i].TxId, err)
			continue
		}
		if _, known := t.byID[rec.TxId]; !known {
			t.order = append(t.order, rec.TxId)
		}
		t.byID[rec.TxId] = rec
	}
	log.Debugf("TxStore restored %d records", len(t.order))
	return nil
}

func recordToModel(rec *TxRecord) (*db.TxRecord, error) {
	raw := ""
	if rec.Tx != nil {
		encoded, err := json.Marshal(rec.Tx)
		if err != nil {
			return nil, fmt.Errorf("marshal tx %s: %w", rec.TxId, err)
		}
		raw = string(encoded)
	}
	return &db.TxRecord{
		TxId:         rec.TxId,
		Direction:    rec.Direction,
		Amount:       rec.Amount,
		Address:      rec.Address,
		Note:         rec.Note,
		BlueScore:    rec.BlueScore,
		RawTx:        raw,
		SelfTransfer: rec.SelfTransfer,
		Timestamp:    rec.Timestamp,
		UpdatedAt:    time.Now(),
	}, nil
}

func modelToRecord(model *db.TxRecord) (*TxRecord, error) {
	rec := &TxRecord{
		Direction:    model.Direction,
		Timestamp:    model.Timestamp,
		TxId:         model.TxId,
		Amount:       model.Amount,
		Address:      model.Address,
		Note:         model.Note,
		BlueScore:    model.BlueScore,
		SelfTransfer: model.SelfTransfer,
	}
	if model.RawTx != "" {
		var tx types.RpcTransaction
		if err := json.Unmarshal([]byte(model.RawTx), &tx); err != nil {
			return nil, err
		}
		rec.Tx = &tx
	}
	return rec, nil
}
