// Package wallet implements the HD wallet core: address chains, the UTXO
// view, transaction building and the sync orchestration against a node.
package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/kasware/kaswalletd/internal/config"
	"github.com/kasware/kaswalletd/internal/db"
	"github.com/kasware/kaswalletd/internal/events"
	"github.com/kasware/kaswalletd/internal/keys"
	"github.com/kasware/kaswalletd/internal/rpcclient"
	"github.com/kasware/kaswalletd/internal/types"
	log "github.com/sirupsen/logrus"
)

// Options carries the tunables the wallet reads at construction.
type Options struct {
	Network       string
	GapLimit      uint32
	FeePerByte    uint64
	MaxNetworkFee uint64
	UtxoMaxCount  int

	// CoinbaseMaturity and UtxoMaturity override the network defaults
	// when non-zero.
	CoinbaseMaturity uint64
	UtxoMaturity     uint64

	DisableAddressDiscovery bool
}

// OptionsFromConfig snapshots the global configuration.
func OptionsFromConfig() Options {
	return Options{
		Network:          config.AppConfig.Network,
		GapLimit:         config.AppConfig.GapLimit,
		FeePerByte:       config.AppConfig.FeePerByte,
		MaxNetworkFee:    config.AppConfig.MaxNetworkFee,
		UtxoMaxCount:     config.AppConfig.UtxoMaxCount,
		CoinbaseMaturity: config.AppConfig.CoinbaseMaturity,
		UtxoMaturity:     config.AppConfig.UtxoMaturity,
	}
}

// Wallet owns the address manager, the UTXO set and the transaction log,
// and drives them through the sync lifecycle: connect, sync, subscribe,
// steady state. All mutations are serialized through one mutex, RPC
// callbacks funnel into it in arrival order.
type Wallet struct {
	mu sync.Mutex

	net  *types.Network
	opts Options
	root *keys.HDRoot
	uid  string

	rpc rpcclient.Client
	bus *events.EventBus
	dbm *db.DatabaseManager

	addrMgr *AddressManager
	utxoSet *UtxoSet
	txStore *TxStore

	ctx context.Context

	connectedMu sync.Mutex
	connectedCh chan struct{}
	connected   bool

	syncInProgress  bool
	syncDone        bool
	continuousSync  bool
	blueScore       uint64
	blueScoreSynced bool

	confirmedBalance int64
	pendingBalance   int64
	lastBalance      *BalanceEvent
	// disableBalanceNotifications lets a batch of mutations run with a
	// single emission at the end.
	disableBalanceNotifications bool

	restoreOnce sync.Once

	blueScoreSubUid string
	utxoSubUid      string
	blockSubUid     string
}

// New builds a wallet around an HD root. dbm may be nil for an ephemeral
// wallet without persistence.
func New(root *keys.HDRoot, rpc rpcclient.Client, bus *events.EventBus, dbm *db.DatabaseManager, opts Options) (*Wallet, error) {
	net, err := types.GetNetwork(opts.Network)
	if err != nil {
		return nil, err
	}
	if opts.CoinbaseMaturity > 0 {
		net.CoinbaseMaturity = opts.CoinbaseMaturity
	}
	if opts.UtxoMaturity > 0 {
		net.UtxoMaturity = opts.UtxoMaturity
	}
	if opts.GapLimit == 0 {
		opts.GapLimit = 64
	}
	if opts.FeePerByte == 0 {
		opts.FeePerByte = 1
	}
	if opts.UtxoMaxCount <= 0 {
		opts.UtxoMaxCount = 100
	}

	uid, err := root.UID(net.Prefix)
	if err != nil {
		return nil, err
	}

	w := &Wallet{
		net:         net,
		opts:        opts,
		root:        root,
		uid:         uid,
		rpc:         rpc,
		bus:         bus,
		dbm:         dbm,
		ctx:         context.Background(),
		connectedCh: make(chan struct{}),
	}

	w.addrMgr, err = NewAddressManager(root, net.Prefix)
	if err != nil {
		return nil, err
	}
	w.addrMgr.SetNewAddressHandler(w.onNewAddress)
	w.utxoSet = NewUtxoSet(net, w.adjustBalance)

	if dbm != nil {
		w.txStore = NewTxStore(dbm.GetWalletDB())
	} else {
		w.txStore = NewTxStore(nil)
	}

	rpc.OnConnect(w.handleConnect)
	rpc.OnDisconnect(w.handleDisconnect)
	return w, nil
}

// FromMnemonic builds a wallet from an existing seed phrase.
func FromMnemonic(mnemonic string, rpc rpcclient.Client, bus *events.EventBus, dbm *db.DatabaseManager, opts Options) (*Wallet, error) {
	root, err := keys.NewHDRoot(mnemonic, "")
	if err != nil {
		return nil, err
	}
	return New(root, rpc, bus, dbm, opts)
}

// Create generates a fresh seed phrase and builds a wallet around it.
func Create(rpc rpcclient.Client, bus *events.EventBus, dbm *db.DatabaseManager, opts Options) (*Wallet, string, error) {
	mnemonic, err := keys.GenerateMnemonic()
	if err != nil {
		return nil, "", err
	}
	w, err := FromMnemonic(mnemonic, rpc, bus, dbm, opts)
	if err != nil {
		return nil, "", err
	}
	return w, mnemonic, nil
}

// FromEncrypted opens a sealed seed export produced by Export.
func FromEncrypted(encoded, password string, rpc rpcclient.Client, bus *events.EventBus, dbm *db.DatabaseManager, opts Options) (*Wallet, error) {
	root, err := keys.ImportRoot(encoded, password)
	if err != nil {
		return nil, err
	}
	return New(root, rpc, bus, dbm, opts)
}

// UID identifies the wallet across restarts.
func (w *Wallet) UID() string { return w.uid }

// Network returns the resolved network parameters.
func (w *Wallet) Network() *types.Network { return w.net }

// Export seals the seed material under a password. The ciphertext is the
// only durable secret.
func (w *Wallet) Export(password string) (string, error) {
	return keys.ExportRoot(w.root, password)
}

// SeedPhrase exposes the mnemonic for display after explicit user action.
func (w *Wallet) SeedPhrase() string { return w.root.SeedPhrase() }

// Connect establishes the node transport.
func (w *Wallet) Connect(ctx context.Context) error {
	return w.rpc.Connect(ctx)
}

// Disconnect tears down the node transport.
func (w *Wallet) Disconnect() error {
	return w.rpc.Disconnect()
}

func (w *Wallet) handleConnect() {
	w.connectedMu.Lock()
	if !w.connected {
		w.connected = true
		close(w.connectedCh)
	}
	w.connectedMu.Unlock()

	w.bus.Publish(events.ApiConnect, nil)
	log.Info("Wallet connected to node")

	w.mu.Lock()
	restart := w.syncDone && w.continuousSync && !w.syncInProgress
	ctx := w.ctx
	w.mu.Unlock()
	if restart {
		log.Info("Wallet restarting sync after reconnect")
		go func() {
			if err := w.Sync(ctx, false); err != nil {
				log.Errorf("Wallet resync error: %v", err)
			}
		}()
	}
}

func (w *Wallet) handleDisconnect() {
	w.connectedMu.Lock()
	if w.connected {
		w.connected = false
		w.connectedCh = make(chan struct{})
	}
	w.connectedMu.Unlock()

	w.mu.Lock()
	w.blueScoreSynced = false
	w.mu.Unlock()

	w.bus.Publish(events.ApiDisconnect, nil)
	log.Warn("Wallet disconnected from node")
}

// awaitConnect blocks until the transport reports connected.
func (w *Wallet) awaitConnect(ctx context.Context) error {
	w.connectedMu.Lock()
	ch := w.connectedCh
	already := w.connected
	w.connectedMu.Unlock()
	if already {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sync brings the wallet to a steady state: blue score, address discovery,
// UTXO population and, unless syncOnce, the standing subscriptions.
// Discovery and blue score errors are logged and the sync continues with a
// partial view, the next reconnect retries.
func (w *Wallet) Sync(ctx context.Context, syncOnce bool) error {
	w.bus.Publish(events.SyncStart, nil)

	if err := w.awaitConnect(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	if w.syncInProgress {
		w.mu.Unlock()
		return ErrSyncInProgress
	}
	w.syncInProgress = true
	w.continuousSync = !syncOnce
	w.ctx = ctx
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.syncInProgress = false
		w.mu.Unlock()
	}()

	w.restoreOnce.Do(w.restore)

	if err := w.initBlueScoreSync(ctx, syncOnce); err != nil {
		log.Errorf("Wallet blue score sync error: %v", err)
	}

	if !w.opts.DisableAddressDiscovery {
		if err := w.addressDiscovery(ctx, w.opts.GapLimit); err != nil {
			log.Errorf("Wallet address discovery error: %v", err)
		}
	}

	if !syncOnce {
		if err := w.utxoSubscribe(ctx); err != nil {
			log.Errorf("Wallet utxo subscribe error: %v", err)
		}
		if err := w.blockSubscribe(ctx); err != nil {
			log.Errorf("Wallet block subscribe error: %v", err)
		}
	}

	w.mu.Lock()
	w.syncDone = true
	available := uint64(w.confirmedBalance)
	pending := uint64(w.pendingBalance)
	confirmedCount := w.utxoSet.ConfirmedCount()
	receive := w.addrMgr.Current(AddressKindReceive)
	w.mu.Unlock()

	w.bus.Publish(events.SyncFinish, nil)
	w.bus.Publish(events.Ready, &ReadyEvent{
		Available:           available,
		Pending:             pending,
		Total:               available + pending,
		ConfirmedUtxosCount: confirmedCount,
	})
	w.mu.Lock()
	w.emitBalance()
	w.mu.Unlock()
	w.bus.Publish(events.NewAddress, &NewAddressEvent{Address: receive.Address, Kind: receive.Kind})
	for _, rec := range w.txStore.Entries() {
		w.bus.Publish(events.StateUpdate, &StateUpdateEvent{TxId: rec.TxId, Record: rec})
	}

	log.Infof("Wallet sync finished, balance %s KAS available, %s KAS pending, %d confirmed utxos",
		types.FormatKAS(available), types.FormatKAS(pending), confirmedCount)
	return nil
}

// restore loads the persisted transaction log and the in-use reservations.
func (w *Wallet) restore() {
	if err := w.txStore.Restore(); err != nil {
		log.Errorf("Wallet tx store restore error: %v", err)
	}
	if w.dbm == nil {
		return
	}
	var reserved []db.ReservedOutpoint
	if err := w.dbm.GetWalletDB().Find(&reserved).Error; err != nil {
		log.Errorf("Wallet reservation restore error: %v", err)
		return
	}
	ids := make([]string, 0, len(reserved))
	for _, r := range reserved {
		ids = append(ids, r.Outpoint)
	}
	w.mu.Lock()
	w.utxoSet.Reserve(ids)
	w.mu.Unlock()
	if len(ids) > 0 {
		log.Infof("Wallet restored %d in-use reservations", len(ids))
	}
}

func (w *Wallet) persistReservations() {
	if w.dbm == nil {
		return
	}
	walletDb := w.dbm.GetWalletDB()
	if err := walletDb.Where("1 = 1").Delete(&db.ReservedOutpoint{}).Error; err != nil {
		log.Errorf("Wallet reservation clear error: %v", err)
		return
	}
	for _, id := range w.utxoSet.InUse() {
		if err := walletDb.Create(&db.ReservedOutpoint{Outpoint: id, UpdatedAt: time.Now()}).Error; err != nil {
			log.Errorf("Wallet reservation persist error: %v", err)
		}
	}
}

// initBlueScoreSync fetches the current virtual blue score and, for a
// continuous sync, subscribes to its changes.
func (w *Wallet) initBlueScoreSync(ctx context.Context, syncOnce bool) error {
	score, err := w.rpc.GetVirtualSelectedParentBlueScore(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.blueScore = score
	w.mu.Unlock()
	log.Debugf("Wallet virtual blue score %d", score)

	if syncOnce {
		return nil
	}
	if w.blueScoreSubUid != "" {
		return nil
	}
	handle, err := w.rpc.SubscribeVirtualSelectedParentBlueScoreChanged(w.handleBlueScoreChanged)
	if err != nil {
		return err
	}
	if err := handle.Wait(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	w.blueScoreSubUid = handle.Uid
	w.blueScoreSynced = true
	w.mu.Unlock()
	return nil
}

func (w *Wallet) handleBlueScoreChanged(score uint64) {
	w.mu.Lock()
	w.blueScore = score
	changed := w.utxoSet.UpdateUtxoBalance(score)
	if changed {
		w.emitBalance()
	}
	w.mu.Unlock()
	w.bus.Publish(events.BlueScoreChanged, &BlueScoreEvent{BlueScore: score})
}

// addressDiscovery walks both chains in gap-limit windows until a window
// shows no activity, then advances each chain past its highest active index.
func (w *Wallet) addressDiscovery(ctx context.Context, threshold uint32) error {
	seen := make(map[string]struct{})

	for _, kind := range []AddressKind{AddressKindReceive, AddressKindChange} {
		highest := int64(-1)
		offset := uint32(0)
		for {
			w.mu.Lock()
			window, err := w.addrMgr.GetAddresses(threshold, kind, offset)
			w.mu.Unlock()
			if err != nil {
				return err
			}
			addresses := make([]string, len(window))
			byAddress := make(map[string]uint32, len(window))
			for i, addr := range window {
				addresses[i] = addr.Address
				byAddress[addr.Address] = addr.Index
			}

			entries, err := w.rpc.GetUtxosByAddresses(ctx, addresses)
			if err != nil {
				return err
			}

			windowHighest := int64(-1)
			var utxos []*types.UnspentOutput
			for _, entry := range entries {
				index, ours := byAddress[entry.Address]
				if !ours {
					continue
				}
				u, err := types.UnspentOutputFromEntry(entry)
				if err != nil {
					log.Warnf("Wallet discovery skipping entry for %s: %v", entry.Address, err)
					continue
				}
				utxos = append(utxos, u)
				seen[u.ID()] = struct{}{}
				if int64(index) > windowHighest {
					windowHighest = int64(index)
				}
			}

			if len(utxos) > 0 {
				w.mu.Lock()
				w.disableBalanceNotifications = true
				w.utxoSet.Add(utxos, w.blueScore)
				w.disableBalanceNotifications = false
				w.mu.Unlock()
			}

			if windowHighest < 0 {
				break
			}
			if windowHighest > highest {
				highest = windowHighest
			}
			offset = uint32(windowHighest) + 1
		}

		w.mu.Lock()
		if advanceTo := highest + 1; advanceTo > int64(w.addrMgr.Counter(kind)) {
			err := w.addrMgr.Advance(kind, uint32(advanceTo)-w.addrMgr.Counter(kind))
			if err != nil {
				w.mu.Unlock()
				return err
			}
		}
		w.mu.Unlock()
		log.Debugf("Wallet discovery on %s chain done, highest active %d", kind, highest)
	}

	w.mu.Lock()
	w.utxoSet.ClearMissing(seen)
	w.emitBalance()
	w.mu.Unlock()
	return nil
}

// findUtxos fetches and indexes the UTXOs of specific addresses.
func (w *Wallet) findUtxos(ctx context.Context, addresses []string) error {
	entries, err := w.rpc.GetUtxosByAddresses(ctx, addresses)
	if err != nil {
		return err
	}
	utxos := make([]*types.UnspentOutput, 0, len(entries))
	for _, entry := range entries {
		u, err := types.UnspentOutputFromEntry(entry)
		if err != nil {
			log.Warnf("Wallet findUtxos skipping entry for %s: %v", entry.Address, err)
			continue
		}
		utxos = append(utxos, u)
	}
	w.mu.Lock()
	w.utxoSet.Add(utxos, w.blueScore)
	w.emitBalance()
	w.mu.Unlock()
	return nil
}

// utxoSubscribe streams UTXO churn for every derived address, replacing any
// previous subscription.
func (w *Wallet) utxoSubscribe(ctx context.Context) error {
	w.mu.Lock()
	addresses := w.addrMgr.Addresses()
	previous := w.utxoSubUid
	w.mu.Unlock()

	if previous != "" {
		if err := w.rpc.UnsubscribeUtxosChanged(previous); err != nil {
			log.Warnf("Wallet unsubscribe utxos error: %v", err)
		}
	}
	handle, err := w.rpc.SubscribeUtxosChanged(addresses, w.handleUtxosChanged)
	if err != nil {
		return err
	}
	if err := handle.Wait(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	w.utxoSubUid = handle.Uid
	w.mu.Unlock()
	log.Debugf("Wallet subscribed to utxo changes for %d addresses", len(addresses))
	return nil
}

// handleUtxosChanged applies one notification atomically: additions first,
// then removals, one balance emission at the end.
func (w *Wallet) handleUtxosChanged(n *types.UtxosChangedNotification) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.disableBalanceNotifications = true

	var added []*types.UnspentOutput
	for _, entry := range n.Added {
		u, err := types.UnspentOutputFromEntry(entry)
		if err != nil {
			log.Warnf("Wallet utxo notification skipping entry: %v", err)
			continue
		}
		added = append(added, u)
	}
	if len(added) > 0 {
		w.utxoSet.Add(added, w.blueScore)
	}

	var removed []string
	for _, entry := range n.Removed {
		outpoint, err := types.NewOutpoint(entry.Outpoint.TransactionID, entry.Outpoint.Index)
		if err != nil {
			log.Warnf("Wallet utxo notification bad outpoint: %v", err)
			continue
		}
		removed = append(removed, outpoint.String())
	}
	if len(removed) > 0 {
		w.utxoSet.Remove(removed)
	}

	w.disableBalanceNotifications = false
	w.emitBalance()
}

// blockSubscribe streams accepted blocks so incoming transfers land in the
// transaction log.
func (w *Wallet) blockSubscribe(ctx context.Context) error {
	w.mu.Lock()
	already := w.blockSubUid
	w.mu.Unlock()
	if already != "" {
		return nil
	}
	handle, err := w.rpc.SubscribeBlockAdded(w.handleBlockAdded)
	if err != nil {
		return err
	}
	if err := handle.Wait(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	w.blockSubUid = handle.Uid
	w.mu.Unlock()
	return nil
}

// handleBlockAdded records incoming transfers touching wallet addresses.
func (w *Wallet) handleBlockAdded(n *types.BlockAddedNotification) {
	if n.Block == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, tx := range n.Block.Transactions {
		if w.txStore.Has(tx.TransactionID) {
			continue
		}
		var amount uint64
		var toAddr string
		for _, out := range tx.Outputs {
			if w.addrMgr.IsOur(out.Address) {
				amount += out.Amount
				if toAddr == "" {
					toAddr = out.Address
				}
			}
		}
		if amount == 0 {
			continue
		}
		rec := &TxRecord{
			Direction: TxDirectionIn,
			Timestamp: time.Now().UnixMilli(),
			TxId:      tx.TransactionID,
			Amount:    amount,
			Address:   toAddr,
			BlueScore: n.Block.BlueScore,
		}
		if err := w.txStore.Append(rec); err != nil {
			log.Errorf("Wallet block observation store error: %v", err)
		}
		w.bus.Publish(events.StateUpdate, &StateUpdateEvent{TxId: rec.TxId, Record: rec})
	}
}

// onNewAddress bridges fresh derivations to the event bus and, in steady
// state, refreshes the UTXO view and subscription for the new address.
func (w *Wallet) onNewAddress(addr *Address) {
	w.bus.Publish(events.NewAddress, &NewAddressEvent{Address: addr.Address, Kind: addr.Kind})

	if !w.syncDone || !w.continuousSync || w.utxoSubUid == "" {
		return
	}
	address := addr.Address
	ctx := w.ctx
	go func() {
		if err := w.findUtxos(ctx, []string{address}); err != nil {
			log.Warnf("Wallet scan of new address %s error: %v", address, err)
		}
		if err := w.utxoSubscribe(ctx); err != nil {
			log.Warnf("Wallet resubscribe after new address error: %v", err)
		}
	}()
}

// adjustBalance maintains the derived balance counters. The utxo set calls
// it for every insert, removal and migration.
func (w *Wallet) adjustBalance(isConfirmed bool, delta int64) {
	if isConfirmed {
		w.confirmedBalance += delta
	} else {
		w.pendingBalance += delta
	}
}

// emitBalance publishes the balance counters, deduplicating against the
// previous notification. Callers hold the wallet lock.
func (w *Wallet) emitBalance() {
	if w.disableBalanceNotifications {
		return
	}
	ev := &BalanceEvent{
		Available: uint64(w.confirmedBalance),
		Pending:   uint64(w.pendingBalance),
		Total:     uint64(w.confirmedBalance + w.pendingBalance),
	}
	if w.lastBalance != nil && *w.lastBalance == *ev {
		return
	}
	w.lastBalance = ev
	w.bus.Publish(events.BalanceUpdate, ev)
}

// Balance returns the derived counters: available, pending, total.
func (w *Wallet) Balance() (uint64, uint64, uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return uint64(w.confirmedBalance), uint64(w.pendingBalance),
		uint64(w.confirmedBalance + w.pendingBalance)
}

// BlueScore returns the latest observed virtual blue score.
func (w *Wallet) BlueScore() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blueScore
}

// ReceiveAddress returns the active receive address.
func (w *Wallet) ReceiveAddress() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addrMgr.Current(AddressKindReceive).Address
}

// NewReceiveAddress reserves and returns a fresh receive address.
func (w *Wallet) NewReceiveAddress() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	addr, err := w.addrMgr.Next(AddressKindReceive)
	if err != nil {
		return "", err
	}
	return addr.Address, nil
}

// Addresses returns every derived address.
func (w *Wallet) Addresses() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addrMgr.Addresses()
}

// Transactions returns the transaction log in append order.
func (w *Wallet) Transactions() []*TxRecord {
	return w.txStore.Entries()
}

// ClearUsedUtxos empties the spent-locally collection and the reservation
// list, for recovery after a node resync.
func (w *Wallet) ClearUsedUtxos() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.utxoSet.ClearUsed()
	w.persistReservations()
}

// Synced reports whether the initial sync completed.
func (w *Wallet) Synced() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncDone
}
