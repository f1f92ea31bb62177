package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/kasware/kaswalletd/internal/db"
	"github.com/kasware/kaswalletd/internal/events"
	"github.com/kasware/kaswalletd/internal/http"
	"github.com/kasware/kaswalletd/internal/rpcclient"
	"github.com/kasware/kaswalletd/internal/wallet"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	DatabaseManager *db.DatabaseManager
	EventBus        *events.EventBus
	Wallet          *wallet.Wallet
	HTTPServer      *http.HTTPServer
	RpcClient       rpcclient.Client
}

// NewApplication wires the wallet around a caller-supplied node client, so
// integrators and tests choose the transport.
func NewApplication(client rpcclient.Client) *Application {
	mnemonic := os.Getenv("WALLET_SEED_PHRASE")
	if mnemonic == "" {
		log.Fatal("WALLET_SEED_PHRASE is not set")
	}

	dbm := db.NewDatabaseManager()
	bus := events.NewEventBus()
	w, err := wallet.FromMnemonic(mnemonic, client, bus, dbm, wallet.OptionsFromConfig())
	if err != nil {
		log.Fatalf("Failed to build wallet: %v", err)
	}
	httpServer := http.NewHTTPServer(w)

	log.Infof("Wallet %s on %s ready to sync", w.UID(), w.Network().Name)

	return &Application{
		DatabaseManager: dbm,
		EventBus:        bus,
		Wallet:          w,
		HTTPServer:      httpServer,
		RpcClient:       client,
	}
}

func (app *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	balanceSub := app.EventBus.Subscribe(events.BalanceUpdate, events.EVENT_CHAN_LENGTH)
	defer balanceSub.Unsubscribe()
	stateSub := app.EventBus.Subscribe(events.StateUpdate, events.EVENT_CHAN_LENGTH)
	defer stateSub.Unsubscribe()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-balanceSub.C:
				if balance, ok := ev.(*wallet.BalanceEvent); ok {
					log.Infof("Balance update, available %d, pending %d, total %d",
						balance.Available, balance.Pending, balance.Total)
				}
			case ev := <-stateSub.C:
				if update, ok := ev.(*wallet.StateUpdateEvent); ok {
					log.Infof("Transaction log update, txid %s", update.TxId)
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.HTTPServer.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.Wallet.Connect(ctx); err != nil {
			log.Errorf("Wallet connect error: %v", err)
			return
		}
		if err := app.Wallet.Sync(ctx, false); err != nil {
			log.Errorf("Wallet sync error: %v", err)
		}
	}()

	<-stop
	log.Info("Receiving exit signal...")
	cancel()
	if err := app.Wallet.Disconnect(); err != nil {
		log.Warnf("Wallet disconnect error: %v", err)
	}
	wg.Wait()
	log.Info("Application stopped")
}
