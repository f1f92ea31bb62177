package wallet

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/kasware/kaswalletd/internal/types"
	log "github.com/sirupsen/logrus"
)

// Per-input weight used while selecting, before the real transaction exists:
// outpoint, sequence, a SIGHASH_ALL signature script and one sig op.
const (
	inputSerializedSize   = chainhash.HashSize + 4 + 8 + types.SignatureScriptAllSize + 8
	estimatedMassPerInput = inputSerializedSize*types.MassPerTxByte + types.MassPerSigOp
)

// UtxoSet indexes the wallet's unspent outputs in three disjoint keyed
// collections plus a reservation list for in-flight builds.
//
// Invariants: confirmed, pending and used are pairwise disjoint; byAddress
// is consistent with their union; an outpoint in inUse also lives in
// confirmed or pending while its submit is in flight and in used once the
// submit succeeded (except reservations restored from disk whose outputs
// have not been observed yet).
type UtxoSet struct {
	confirmed map[string]*types.UnspentOutput
	pending   map[string]*types.UnspentOutput
	used      map[string]*types.UnspentOutput

	byAddress map[string]map[string]struct{}

	inUse    []string
	inUseSet map[string]struct{}

	network *types.Network

	// adjust reports balance deltas to the owner as outputs move in and
	// out of the confirmed and pending collections.
	adjust func(isConfirmed bool, delta int64)
}

func NewUtxoSet(network *types.Network, adjust func(bool, int64)) *UtxoSet {
	if adjust == nil {
		adjust = func(bool, int64) {}
	}
	return &UtxoSet{
		confirmed: make(map[string]*types.UnspentOutput),
		pending:   make(map[string]*types.UnspentOutput),
		used:      make(map[string]*types.UnspentOutput),
		byAddress: make(map[string]map[string]struct{}),
		inUseSet:  make(map[string]struct{}),
		network:   network,
		adjust:    adjust,
	}
}

func (s *UtxoSet) indexAddress(u *types.UnspentOutput) {
	set, ok := s.byAddress[u.Address]
	if !ok {
		set = make(map[string]struct{})
		s.byAddress[u.Address] = set
	}
	set[u.ID()] = struct{}{}
}

func (s *UtxoSet) unindexAddress(u *types.UnspentOutput) {
	if set, ok := s.byAddress[u.Address]; ok {
		delete(set, u.ID())
		if len(set) == 0 {
			delete(s.byAddress, u.Address)
		}
	}
}

// drop removes an outpoint from every collection and the reservation list.
func (s *UtxoSet) drop(id string) {
	if u, ok := s.confirmed[id]; ok {
		delete(s.confirmed, id)
		s.unindexAddress(u)
		s.adjust(true, -int64(u.Satoshis))
	}
	if u, ok := s.pending[id]; ok {
		delete(s.pending, id)
		s.unindexAddress(u)
		s.adjust(false, -int64(u.Satoshis))
	}
	if u, ok := s.used[id]; ok {
		delete(s.used, id)
		s.unindexAddress(u)
	}
	s.release(id)
}

func (s *UtxoSet) release(id string) {
	if _, ok := s.inUseSet[id]; !ok {
		return
	}
	delete(s.inUseSet, id)
	for i, reserved := range s.inUse {
		if reserved == id {
			s.inUse = append(s.inUse[:i], s.inUse[i+1:]...)
			break
		}
	}
}

// Add classifies each output by maturity at the given blue score and inserts
// it. Re-adding an outpoint updates its fields and classification but
// preserves inUse membership.
func (s *UtxoSet) Add(utxos []*types.UnspentOutput, blueScore uint64) int {
	added := 0
	for _, u := range utxos {
		id := u.ID()
		if _, ok := s.used[id]; ok {
			// Locally spent, the node just has not caught up.
			continue
		}
		fresh := true
		if prev, ok := s.confirmed[id]; ok {
			fresh = false
			delete(s.confirmed, id)
			s.unindexAddress(prev)
			s.adjust(true, -int64(prev.Satoshis))
		} else if prev, ok := s.pending[id]; ok {
			fresh = false
			delete(s.pending, id)
			s.unindexAddress(prev)
			s.adjust(false, -int64(prev.Satoshis))
		}
		if u.IsMatureAt(blueScore, s.network) {
			s.confirmed[id] = u
			s.adjust(true, int64(u.Satoshis))
		} else {
			s.pending[id] = u
			s.adjust(false, int64(u.Satoshis))
		}
		s.indexAddress(u)
		if fresh {
			added++
		}
	}
	return added
}

// Remove deletes the outpoints from every collection and the reservation
// list.
func (s *UtxoSet) Remove(outpointIds []string) {
	for _, id := range outpointIds {
		s.drop(id)
	}
}

// UpdateUtxoBalance migrates outpoints between confirmed and pending after
// a blue score change. It reports whether anything moved.
func (s *UtxoSet) UpdateUtxoBalance(blueScore uint64) bool {
	changed := false
	for id, u := range s.pending {
		if u.IsMatureAt(blueScore, s.network) {
			delete(s.pending, id)
			s.confirmed[id] = u
			s.adjust(false, -int64(u.Satoshis))
			s.adjust(true, int64(u.Satoshis))
			changed = true
		}
	}
	for id, u := range s.confirmed {
		if !u.IsMatureAt(blueScore, s.network) {
			delete(s.confirmed, id)
			s.pending[id] = u
			s.adjust(true, -int64(u.Satoshis))
			s.adjust(false, int64(u.Satoshis))
			changed = true
		}
	}
	if changed {
		log.Debugf("UtxoSet rebalance at blue score %d, confirmed %d, pending %d",
			blueScore, len(s.confirmed), len(s.pending))
	}
	return changed
}

// sortedSpendable returns the confirmed outputs not reserved by an in-flight
// build, descending by amount with the outpoint key as tiebreak so builds
// are deterministic.
func (s *UtxoSet) sortedSpendable() []*types.UnspentOutput {
	out := make([]*types.UnspentOutput, 0, len(s.confirmed))
	for id, u := range s.confirmed {
		if _, reserved := s.inUseSet[id]; reserved {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Satoshis != out[j].Satoshis {
			return out[i].Satoshis > out[j].Satoshis
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// SelectUtxos picks confirmed outputs largest-first until the target amount
// is covered. It returns the selection, its outpoint ids and the estimated
// input mass.
func (s *UtxoSet) SelectUtxos(targetAmount uint64) ([]*types.UnspentOutput, []string, uint64, error) {
	spendable := s.sortedSpendable()

	var selected []*types.UnspentOutput
	var ids []string
	var total uint64
	var mass uint64
	for _, u := range spendable {
		if total >= targetAmount {
			break
		}
		selected = append(selected, u)
		ids = append(ids, u.ID())
		total += u.Satoshis
		mass += estimatedMassPerInput
	}
	if total < targetAmount {
		var available uint64
		for _, u := range spendable {
			available += u.Satoshis
		}
		return nil, nil, 0, &InsufficientFundsError{Requested: targetAmount, Available: available}
	}
	if mass > types.MaxMassUTXOs {
		return nil, nil, 0, &MassLimitError{Mass: mass, Max: types.MaxMassUTXOs}
	}
	return selected, ids, mass, nil
}

// CollectUtxos takes up to maxCount confirmed outputs largest-first, used
// for compounding. It returns the selection, its outpoint ids and the
// aggregated amount.
func (s *UtxoSet) CollectUtxos(maxCount int) ([]*types.UnspentOutput, []string, uint64) {
	spendable := s.sortedSpendable()

	var selected []*types.UnspentOutput
	var ids []string
	var total uint64
	var mass uint64
	for _, u := range spendable {
		if len(selected) >= maxCount {
			break
		}
		if mass+estimatedMassPerInput > types.MaxMassUTXOs {
			break
		}
		selected = append(selected, u)
		ids = append(ids, u.ID())
		total += u.Satoshis
		mass += estimatedMassPerInput
	}
	return selected, ids, total
}

// UpdateUsed moves outputs spent by a locally submitted transaction into
// used and reserves their outpoints.
func (s *UtxoSet) UpdateUsed(utxos []*types.UnspentOutput) {
	for _, u := range utxos {
		id := u.ID()
		if prev, ok := s.confirmed[id]; ok {
			delete(s.confirmed, id)
			s.adjust(true, -int64(prev.Satoshis))
		} else if prev, ok := s.pending[id]; ok {
			delete(s.pending, id)
			s.adjust(false, -int64(prev.Satoshis))
		} else {
			continue
		}
		s.used[id] = u
		if _, reserved := s.inUseSet[id]; !reserved {
			s.inUse = append(s.inUse, id)
			s.inUseSet[id] = struct{}{}
		}
	}
}

// Reserve marks outpoints as in use without reclassifying them, applied when
// restoring reservations from disk.
func (s *UtxoSet) Reserve(outpointIds []string) {
	for _, id := range outpointIds {
		if _, ok := s.inUseSet[id]; ok {
			continue
		}
		s.inUse = append(s.inUse, id)
		s.inUseSet[id] = struct{}{}
	}
}

// ReleaseReservations drops outpoints from the reservation list without
// touching the keyed collections, applied when an in-flight build fails.
func (s *UtxoSet) ReleaseReservations(outpointIds []string) {
	for _, id := range outpointIds {
		s.release(id)
	}
}

// InUse returns a copy of the reservation list in reservation order.
func (s *UtxoSet) InUse() []string {
	out := make([]string, len(s.inUse))
	copy(out, s.inUse)
	return out
}

// ClearUsed empties the used collection and the reservation list.
func (s *UtxoSet) ClearUsed() {
	for id, u := range s.used {
		delete(s.used, id)
		s.unindexAddress(u)
	}
	s.inUse = nil
	s.inUseSet = make(map[string]struct{})
}

// ClearMissing drops confirmed and pending entries absent from the latest
// authoritative listing.
func (s *UtxoSet) ClearMissing(seen map[string]struct{}) {
	var stale []string
	for id := range s.confirmed {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	for id := range s.pending {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		log.Debugf("UtxoSet clearing %d missing outpoints after sync", len(stale))
		s.Remove(stale)
	}
}

// ConfirmedCount returns the number of confirmed outputs.
func (s *UtxoSet) ConfirmedCount() int {
	return len(s.confirmed)
}

// ConfirmedSum adds up the confirmed collection directly, used to check the
// derived balance counters.
func (s *UtxoSet) ConfirmedSum() uint64 {
	var sum uint64
	for _, u := range s.confirmed {
		sum += u.Satoshis
	}
	return sum
}

// PendingSum adds up the pending collection directly.
func (s *UtxoSet) PendingSum() uint64 {
	var sum uint64
	for _, u := range s.pending {
		sum += u.Satoshis
	}
	return sum
}
