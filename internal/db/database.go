package db

import (
	"os"
	"path/filepath"

	"github.com/kasware/kaswalletd/internal/config"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type DatabaseManager struct {
	walletDb *gorm.DB
}

func NewDatabaseManager() *DatabaseManager {
	dm := &DatabaseManager{}
	dm.initDB()
	return dm
}

func (dm *DatabaseManager) initDB() {
	dbDir := config.AppConfig.DbDir
	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	walletPath := filepath.Join(dbDir, "wallet.db")
	walletDb, err := gorm.Open(sqlite.Open(walletPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		log.Fatalf("Failed to connect to wallet database: %v", err)
	}
	dm.walletDb = walletDb
	log.Debugf("Wallet database connected successfully, path: %s", walletPath)

	dm.autoMigrate()
	log.Debugf("Database migration completed successfully")
}

func (dm *DatabaseManager) autoMigrate() {
	if err := dm.walletDb.AutoMigrate(&TxRecord{}, &ReservedOutpoint{}, &WalletMeta{}); err != nil {
		log.Fatalf("Failed to migrate wallet database: %v", err)
	}
}

func (dm *DatabaseManager) GetWalletDB() *gorm.DB {
	return dm.walletDb
}
