package config

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var AppConfig Config

func InitConfig() {
	viper.AutomaticEnv()

	// Default config
	viper.SetDefault("NETWORK", "kaspa")
	viper.SetDefault("RPC_TRANSPORT", "grpc")
	viper.SetDefault("RPC_ADDRESS", "")
	viper.SetDefault("HTTP_PORT", "8180")
	viper.SetDefault("DB_DIR", "/app/db")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("GAP_LIMIT", 64)
	viper.SetDefault("FEE_PER_BYTE", 1)
	viper.SetDefault("MAX_NETWORK_FEE", 0)
	viper.SetDefault("UTXO_MAX_COUNT", 100)
	viper.SetDefault("COINBASE_MATURITY", 0)
	viper.SetDefault("UTXO_MATURITY", 0)

	logLevel, err := logrus.ParseLevel(strings.ToLower(viper.GetString("LOG_LEVEL")))
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}

	AppConfig = Config{
		Network:          viper.GetString("NETWORK"),
		RPCTransport:     viper.GetString("RPC_TRANSPORT"),
		RPCAddress:       viper.GetString("RPC_ADDRESS"),
		HTTPPort:         viper.GetString("HTTP_PORT"),
		DbDir:            viper.GetString("DB_DIR"),
		LogLevel:         logLevel,
		GapLimit:         viper.GetUint32("GAP_LIMIT"),
		FeePerByte:       viper.GetUint64("FEE_PER_BYTE"),
		MaxNetworkFee:    viper.GetUint64("MAX_NETWORK_FEE"),
		UtxoMaxCount:     viper.GetInt("UTXO_MAX_COUNT"),
		CoinbaseMaturity: viper.GetUint64("COINBASE_MATURITY"),
		UtxoMaturity:     viper.GetUint64("UTXO_MATURITY"),
	}

	if AppConfig.GapLimit == 0 {
		logrus.Warnf("Gap limit is zero, set to 64")
		AppConfig.GapLimit = 64
	}

	logrus.Infof("Init config, network %s, gap limit %d, fee per byte %d",
		AppConfig.Network, AppConfig.GapLimit, AppConfig.FeePerByte)

	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(AppConfig.LogLevel)
}

type Config struct {
	Network string
	// RPCTransport names the registered node transport to dial through.
	RPCTransport string
	RPCAddress   string
	HTTPPort   string
	DbDir      string
	LogLevel   logrus.Level

	// GapLimit is the address discovery window on each chain.
	GapLimit uint32
	// FeePerByte is the data fee rate in sompi per serialized byte.
	FeePerByte uint64
	// MaxNetworkFee caps the total fee of a built transaction, 0 disables the cap.
	MaxNetworkFee uint64
	// UtxoMaxCount is the maximum inputs consumed by one compounding transaction.
	UtxoMaxCount int

	// CoinbaseMaturity and UtxoMaturity override the network defaults when non-zero.
	CoinbaseMaturity uint64
	UtxoMaturity     uint64
}
