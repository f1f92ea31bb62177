package main

import (
	"github.com/joho/godotenv"
	"github.com/kasware/kaswalletd/internal/config"
	"github.com/kasware/kaswalletd/internal/rpcclient"
	"github.com/kasware/kaswalletd/internal/types"
	log "github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}

	config.InitConfig()

	network, err := types.GetNetwork(config.AppConfig.Network)
	if err != nil {
		log.Fatalf("Failed to resolve network: %v", err)
	}
	address := config.AppConfig.RPCAddress
	if address == "" {
		address = network.DefaultRPCAddress()
	}

	// Transports register like database/sql drivers through a blank import;
	// RPC_TRANSPORT selects one of them.
	client, err := rpcclient.Open(config.AppConfig.RPCTransport, address)
	if err != nil {
		log.Fatalf("Failed to open node client (link a transport package and set RPC_TRANSPORT): %v", err)
	}

	app := NewApplication(client)
	app.Run()
}
