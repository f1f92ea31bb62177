package wallet

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kasware/kaswalletd/internal/events"
	"github.com/kasware/kaswalletd/internal/keys"
	"github.com/kasware/kaswalletd/internal/types"
	log "github.com/sirupsen/logrus"
)

const (
	defaultSequence uint64 = math.MaxUint64

	// maxFeeEstimateIterations bounds the fee convergence loop. Each pass
	// can only grow the fee by the bytes of newly selected inputs, two or
	// three passes settle in practice.
	maxFeeEstimateIterations = 16
)

// SendParams describes one outgoing transaction.
type SendParams struct {
	ToAddr string
	Amount uint64
	// Fee is the priority fee in sompi, added on top of the data fee.
	Fee uint64

	// ChangeAddrOverride skips change derivation when set.
	ChangeAddrOverride string
	// SkipSign leaves the candidate unsigned.
	SkipSign bool
	// NetworkFeeMax caps the total fee, 0 falls back to the wallet option.
	NetworkFeeMax uint64
	// CalculateNetworkFee enables the iterative data fee loop. When false
	// the priority fee must already cover the data fee.
	CalculateNetworkFee bool
	// InclusiveFee deducts the fee from Amount instead of adding to it.
	InclusiveFee bool
	// CompoundUtxoMaxCount switches the build to compounding: collect up
	// to this many inputs and send their aggregate back to the wallet.
	CompoundUtxoMaxCount int

	Note string
}

// NewSendParams builds params with automatic fee calculation enabled.
func NewSendParams(toAddr string, amount uint64) *SendParams {
	return &SendParams{
		ToAddr:              toAddr,
		Amount:              amount,
		CalculateNetworkFee: true,
	}
}

// ComposedTx is a transaction candidate together with the selection that
// funds it.
type ComposedTx struct {
	Tx      *types.Transaction
	Utxos   []*types.UnspentOutput
	UtxoIds []string

	ToAddr     string
	ChangeAddr string
	Amount     uint64
	Change     uint64
	Fee        uint64
	DataFee    uint64
	Signed     bool

	changeDerived bool
}

// composeTx assembles a candidate paying amount to p.ToAddr with the given
// total fee. The invariant Σinputs == Σoutputs + fee holds on success.
func (w *Wallet) composeTx(p *SendParams, amount, fee uint64, sign bool) (*ComposedTx, error) {
	var (
		utxos []*types.UnspentOutput
		ids   []string
		total uint64
	)
	if p.CompoundUtxoMaxCount > 0 {
		utxos, ids, total = w.utxoSet.CollectUtxos(p.CompoundUtxoMaxCount)
		if len(utxos) == 0 || total <= fee {
			return nil, &InsufficientFundsError{Requested: fee, Available: total}
		}
		amount = total - fee
	} else {
		var err error
		utxos, ids, _, err = w.utxoSet.SelectUtxos(amount + fee)
		if err != nil {
			return nil, err
		}
		for _, u := range utxos {
			total += u.Satoshis
		}
	}

	changeAddr := p.ChangeAddrOverride
	changeDerived := false
	if changeAddr == "" {
		addr, err := w.addrMgr.Next(AddressKindChange)
		if err != nil {
			return nil, err
		}
		changeAddr = addr.Address
		changeDerived = true
	}
	fail := func(err error) (*ComposedTx, error) {
		if changeDerived {
			w.addrMgr.Reverse(AddressKindChange)
		}
		return nil, err
	}

	if total < amount+fee {
		return fail(ErrNegativeChange)
	}
	change := total - amount - fee

	toScript, err := keys.PayToAddrScript(p.ToAddr)
	if err != nil {
		return fail(fmt.Errorf("destination address: %w", err))
	}

	tx := &types.Transaction{
		Version:      types.TxVersion,
		SubnetworkID: types.SubnetworkIDNative,
		Fee:          fee,
	}
	for _, u := range utxos {
		tx.Inputs = append(tx.Inputs, &types.TxInput{
			PreviousOutpoint: u.Outpoint,
			Sequence:         defaultSequence,
		})
	}
	tx.Outputs = append(tx.Outputs, &types.TxOutput{
		Value:         amount,
		ScriptVersion: 0,
		ScriptPubKey:  toScript,
	})
	if change > 0 {
		changeScript, err := keys.PayToAddrScript(changeAddr)
		if err != nil {
			return fail(fmt.Errorf("change address: %w", err))
		}
		tx.Outputs = append(tx.Outputs, &types.TxOutput{
			Value:         change,
			ScriptVersion: 0,
			ScriptPubKey:  changeScript,
		})
	}

	composed := &ComposedTx{
		Tx:            tx,
		Utxos:         utxos,
		UtxoIds:       ids,
		ToAddr:        p.ToAddr,
		ChangeAddr:    changeAddr,
		Amount:        amount,
		Change:        change,
		Fee:           fee,
		changeDerived: changeDerived,
	}
	if sign && !p.SkipSign {
		if err := w.signTx(tx, utxos); err != nil {
			return fail(err)
		}
		composed.Signed = true
	}
	return composed, nil
}

// signTx attaches SIGHASH_ALL Schnorr signature scripts, one per input,
// using the keys behind each spent output's address.
func (w *Wallet) signTx(tx *types.Transaction, utxos []*types.UnspentOutput) error {
	for i, u := range utxos {
		addr := w.addrMgr.Get(u.Address)
		if addr == nil {
			return fmt.Errorf("no key for address %s", u.Address)
		}
		hash := tx.CalcSignatureHash(i, u.ScriptPubKey)
		sig, err := addr.Key.SignSchnorr(hash)
		if err != nil {
			return err
		}
		sigScript := make([]byte, 0, types.SignatureScriptAllSize)
		sigScript = append(sigScript, byte(len(sig)+1))
		sigScript = append(sigScript, sig...)
		sigScript = append(sigScript, types.SigHashAll)
		tx.Inputs[i].SignatureScript = sigScript
	}
	return nil
}

// txSize approximates the final wire size of a candidate. Unsigned inputs
// are padded by the expected signature script bytes, signed serializations
// overshoot slightly and are trimmed.
func (w *Wallet) txSize(c *ComposedTx) uint64 {
	size := c.Tx.SerializedSize()
	if c.Signed {
		size -= types.SignedInputTrimBytes * len(c.Tx.Inputs)
	} else {
		size += types.UnsignedInputPadBytes * len(c.Tx.Inputs)
	}
	return uint64(size)
}

func (w *Wallet) reverseComposed(c *ComposedTx) {
	if c != nil && c.changeDerived {
		w.addrMgr.Reverse(AddressKindChange)
	}
}

// EstimateTransaction composes a candidate whose fee covers its own size.
func (w *Wallet) EstimateTransaction(p *SendParams) (*ComposedTx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.estimateTransactionLocked(p)
}

// estimateTransactionLocked runs the iterative fee convergence: compose,
// re-measure, raise the data fee, stop once the fee paid covers the size.
func (w *Wallet) estimateTransactionLocked(p *SendParams) (*ComposedTx, error) {
	feePerByte := w.opts.FeePerByte
	priorityFee := p.Fee
	maxFee := p.NetworkFeeMax
	if maxFee == 0 {
		maxFee = w.opts.MaxNetworkFee
	}

	if !p.CalculateNetworkFee {
		amount, err := applyInclusiveFee(p, priorityFee)
		if err != nil {
			return nil, err
		}
		c, err := w.composeTx(p, amount, priorityFee, false)
		if err != nil {
			return nil, err
		}
		dataFee := w.txSize(c) * feePerByte
		if dataFee > priorityFee {
			w.reverseComposed(c)
			return nil, &MinimumFeeError{Required: dataFee}
		}
		c.DataFee = dataFee
		return c, nil
	}

	dataFee := uint64(0)
	for iter := 0; iter < maxFeeEstimateIterations; iter++ {
		fee := priorityFee + dataFee
		if maxFee > 0 && fee > maxFee {
			return nil, &FeeMaxExceededError{Fee: fee, Max: maxFee}
		}
		amount, err := applyInclusiveFee(p, fee)
		if err != nil {
			return nil, err
		}
		c, err := w.composeTx(p, amount, fee, false)
		if err != nil {
			return nil, err
		}
		newDataFee := w.txSize(c) * feePerByte
		if fee >= newDataFee+priorityFee {
			c.DataFee = newDataFee
			return c, nil
		}
		log.Debugf("Wallet estimate iteration %d, fee %d, data fee %d", iter, fee, newDataFee)
		dataFee = newDataFee
		// Roll the change index back before recomposing.
		w.reverseComposed(c)
	}
	return nil, ErrFeeEstimateNotConverged
}

func applyInclusiveFee(p *SendParams, fee uint64) (uint64, error) {
	if p.CompoundUtxoMaxCount > 0 || !p.InclusiveFee {
		return p.Amount, nil
	}
	if fee >= p.Amount {
		return 0, fmt.Errorf("amount %d sompi cannot cover inclusive fee %d", p.Amount, fee)
	}
	return p.Amount - fee, nil
}

// BuildTransaction signs the final estimate and verifies the mass limit.
func (w *Wallet) BuildTransaction(p *SendParams) (*ComposedTx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buildTransactionLocked(p)
}

func (w *Wallet) buildTransactionLocked(p *SendParams) (*ComposedTx, error) {
	c, err := w.estimateTransactionLocked(p)
	if err != nil {
		return nil, err
	}
	if !p.SkipSign && !c.Signed {
		if err := w.signTx(c.Tx, c.Utxos); err != nil {
			w.reverseComposed(c)
			return nil, err
		}
		c.Signed = true
	}
	if mass := c.Tx.Mass(); mass > types.MaxMassAcceptedByBlock {
		w.reverseComposed(c)
		return nil, &MassLimitError{Mass: mass, Max: types.MaxMassAcceptedByBlock}
	}
	return c, nil
}

// SubmitTransaction builds, submits and records an outgoing transaction.
// The consumed outpoints are reserved before the submit goes out so a
// concurrent build cannot select them. An empty txid with a nil error means
// the node accepted the call but returned no id.
func (w *Wallet) SubmitTransaction(ctx context.Context, p *SendParams) (string, error) {
	w.mu.Lock()
	c, err := w.buildTransactionLocked(p)
	if err != nil {
		w.mu.Unlock()
		return "", err
	}
	rpcTx := c.Tx.ToRpcTransaction()
	w.utxoSet.Reserve(c.UtxoIds)
	w.mu.Unlock()

	txid, err := w.rpc.SubmitTransaction(ctx, rpcTx)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.utxoSet.ReleaseReservations(c.UtxoIds)
		return "", fmt.Errorf("submit transaction: %w", err)
	}
	if txid == "" {
		w.utxoSet.ReleaseReservations(c.UtxoIds)
		log.Warnf("Wallet submit returned no txid for %s", c.ToAddr)
		return "", nil
	}

	w.utxoSet.UpdateUsed(c.Utxos)
	w.persistReservations()

	rec := &TxRecord{
		Direction:    TxDirectionOut,
		Timestamp:    time.Now().UnixMilli(),
		TxId:         txid,
		Amount:       c.Amount,
		Address:      c.ToAddr,
		Note:         p.Note,
		BlueScore:    w.blueScore,
		Tx:           rpcTx,
		SelfTransfer: w.addrMgr.IsOur(c.ToAddr),
	}
	if err := w.txStore.Append(rec); err != nil {
		log.Errorf("Wallet submit store append error: %v", err)
	}
	w.bus.Publish(events.StateUpdate, &StateUpdateEvent{TxId: txid, Record: rec})
	w.emitBalance()
	log.Infof("Wallet submitted tx %s, amount %d, fee %d, inputs %d", txid, c.Amount, c.Fee, len(c.Utxos))
	return txid, nil
}

// CompoundUTXOs collapses up to maxCount confirmed outputs into a single
// fresh change output. maxCount 0 uses the wallet option.
func (w *Wallet) CompoundUTXOs(ctx context.Context, maxCount int) (string, error) {
	if maxCount <= 0 {
		maxCount = w.opts.UtxoMaxCount
	}
	w.mu.Lock()
	addr, err := w.addrMgr.Next(AddressKindChange)
	w.mu.Unlock()
	if err != nil {
		return "", err
	}

	p := NewSendParams(addr.Address, 0)
	p.CompoundUtxoMaxCount = maxCount
	p.ChangeAddrOverride = addr.Address

	txid, err := w.SubmitTransaction(ctx, p)
	if err != nil {
		w.mu.Lock()
		w.addrMgr.Reverse(AddressKindChange)
		w.mu.Unlock()
		return "", err
	}
	return txid, nil
}
