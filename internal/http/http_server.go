package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasware/kaswalletd/internal/config"
	"github.com/kasware/kaswalletd/internal/wallet"
	log "github.com/sirupsen/logrus"
)

// HTTPServer exposes wallet state and the send operations over a small
// JSON API.
type HTTPServer struct {
	wallet *wallet.Wallet
}

func NewHTTPServer(w *wallet.Wallet) *HTTPServer {
	return &HTTPServer{wallet: w}
}

func (hs *HTTPServer) Start(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	r.GET("/api/v1/status", hs.handleStatus)
	r.GET("/api/v1/balance", hs.handleBalance)
	r.GET("/api/v1/transactions", hs.handleTransactions)
	r.GET("/api/v1/address/new", hs.handleNewAddress)
	r.POST("/api/v1/send", hs.handleSend)
	r.POST("/api/v1/compound", hs.handleCompound)

	addr := ":" + config.AppConfig.HTTPPort
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Errorf("HTTP server shutdown error: %v", err)
		}
	}()

	log.Infof("HTTP server is running on port %s", config.AppConfig.HTTPPort)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start HTTP server: %v", err)
	}
}

func (hs *HTTPServer) handleStatus(c *gin.Context) {
	available, pending, total := hs.wallet.Balance()
	c.JSON(http.StatusOK, gin.H{
		"uid":            hs.wallet.UID(),
		"network":        hs.wallet.Network().Name,
		"blueScore":      hs.wallet.BlueScore(),
		"synced":         hs.wallet.Synced(),
		"receiveAddress": hs.wallet.ReceiveAddress(),
		"balance": gin.H{
			"available": available,
			"pending":   pending,
			"total":     total,
		},
	})
}

func (hs *HTTPServer) handleBalance(c *gin.Context) {
	available, pending, total := hs.wallet.Balance()
	c.JSON(http.StatusOK, gin.H{"available": available, "pending": pending, "total": total})
}

func (hs *HTTPServer) handleTransactions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"transactions": hs.wallet.Transactions()})
}

func (hs *HTTPServer) handleNewAddress(c *gin.Context) {
	address, err := hs.wallet.NewReceiveAddress()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address})
}

type sendRequest struct {
	ToAddr       string `json:"toAddr" binding:"required"`
	Amount       uint64 `json:"amount" binding:"required"`
	Fee          uint64 `json:"fee"`
	InclusiveFee bool   `json:"inclusiveFee"`
	Note         string `json:"note"`
}

func (hs *HTTPServer) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := wallet.NewSendParams(req.ToAddr, req.Amount)
	params.Fee = req.Fee
	params.InclusiveFee = req.InclusiveFee
	params.Note = req.Note

	txid, err := hs.wallet.SubmitTransaction(c.Request.Context(), params)
	if err != nil {
		var insufficient *wallet.InsufficientFundsError
		if errors.As(err, &insufficient) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if txid == "" {
		c.JSON(http.StatusBadGateway, gin.H{"error": "node returned no transaction id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"txId": txid})
}

type compoundRequest struct {
	MaxCount int `json:"maxCount"`
}

func (hs *HTTPServer) handleCompound(c *gin.Context) {
	var req compoundRequest
	// The body is optional, maxCount falls back to the wallet option.
	_ = c.ShouldBindJSON(&req)
	txid, err := hs.wallet.CompoundUTXOs(c.Request.Context(), req.MaxCount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"txId": txid})
}
