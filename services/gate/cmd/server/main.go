// The gate server fronts one merchant identity: it issues payment challenges
// for orders, verifies settlement receipts read from the ledger, and releases
// fulfillment once an order is paid.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"augenpay/pkg/db"
	"augenpay/pkg/httpx"
	"augenpay/pkg/ledger"
	"augenpay/pkg/ledger/solrpc"
	"augenpay/services/gate/internal/gate"
	"augenpay/services/gate/internal/store"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	merchantRaw := strings.TrimSpace(os.Getenv("GATE_MERCHANT"))
	merchant, err := solana.PublicKeyFromBase58(merchantRaw)
	if err != nil {
		log.Fatal("GATE_MERCHANT must be a base58 public key", zap.String("value", merchantRaw), zap.Error(err))
	}
	receivingRaw := strings.TrimSpace(os.Getenv("GATE_RECEIVING_ACCOUNT"))
	receiving, err := solana.PublicKeyFromBase58(receivingRaw)
	if err != nil {
		log.Fatal("GATE_RECEIVING_ACCOUNT must be the merchant token account, base58", zap.String("value", receivingRaw), zap.Error(err))
	}

	reader, err := buildReader()
	if err != nil {
		log.Fatal("ledger backend", zap.Error(err))
	}

	var st gate.Store
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		st = store.New(db.MustConnect(dsn))
		log.Info("order store: postgres")
	} else {
		st = store.NewMemory()
		log.Warn("order store: in-memory, orders do not survive restart")
	}

	g := gate.New(merchant, receiving, reader, st)

	port := strings.TrimSpace(os.Getenv("SERVICE_PORT"))
	if port == "" {
		port = "8090"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newRouter(g, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("gate listening", zap.String("port", port), zap.String("merchant", merchant.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("serve", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
	log.Info("gate stopped")
}

func newRouter(g *gate.Gate, log *zap.Logger) chi.Router {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/gate/v1", func(api chi.Router) {
		api.Post("/orders", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Amount  uint64         `json:"amount"`
				Memo    string         `json:"memo"`
				Context map[string]any `json:"context"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, httpx.CodeBadJSON, err.Error(), nil)
				return
			}
			if req.Amount == 0 {
				httpx.WriteError(w, 400, httpx.CodeBadRequest, "amount must be positive", nil)
				return
			}
			o, ch, err := g.NewOrder(r.Context(), req.Amount, req.Memo, req.Context)
			if err != nil {
				log.Error("create order", zap.Error(err))
				httpx.WriteError(w, 500, httpx.CodeInternal, "could not create order", nil)
				return
			}
			log.Info("order created", zap.String("order_id", o.OrderID), zap.Uint64("amount", o.Amount))
			httpx.WriteJSON(w, 201, map[string]any{"order": o, "challenge": ch})
		})

		api.Get("/orders/{order_id}", func(w http.ResponseWriter, r *http.Request) {
			orderID := chi.URLParam(r, "order_id")
			ch, err := g.ChallengeFor(r.Context(), orderID)
			if err != nil {
				writeGateError(w, log, err)
				return
			}
			o, err := g.Order(r.Context(), orderID)
			if err != nil {
				writeGateError(w, log, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"order":     o,
				"challenge": ch,
				"unlocked":  o.Status != gate.OrderPending,
			})
		})

		api.Post("/orders/{order_id}/proof", func(w http.ResponseWriter, r *http.Request) {
			orderID := chi.URLParam(r, "order_id")
			var req struct {
				ReceiptAddress string `json:"receipt_address"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, httpx.CodeBadJSON, err.Error(), nil)
				return
			}
			var res gate.VerifyResult
			var err error
			if strings.TrimSpace(req.ReceiptAddress) == "" {
				res, err = g.FindProof(r.Context(), orderID)
			} else {
				res, err = g.SubmitProof(r.Context(), orderID, strings.TrimSpace(req.ReceiptAddress))
			}
			if err != nil {
				writeGateError(w, log, err)
				return
			}
			log.Info("proof checked",
				zap.String("order_id", orderID),
				zap.Bool("valid", res.Valid),
				zap.String("reason", res.Reason))
			httpx.WriteJSON(w, 200, res)
		})

		api.Post("/orders/{order_id}/fulfill", func(w http.ResponseWriter, r *http.Request) {
			orderID := chi.URLParam(r, "order_id")
			o, err := g.Fulfill(r.Context(), orderID)
			if err != nil {
				if errors.Is(err, gate.ErrInvalidOrderState) {
					httpx.WriteError(w, 409, httpx.CodeInvalidOrderState, "order is not paid", nil)
					return
				}
				writeGateError(w, log, err)
				return
			}
			log.Info("order fulfilled", zap.String("order_id", orderID))
			httpx.WriteJSON(w, 200, map[string]any{"order": o})
		})
	})
	return r
}

// buildReader picks the ledger read side: a Solana RPC endpoint when
// GATE_RPC_URL is set, otherwise a local snapshot file for development.
func buildReader() (ledger.Reader, error) {
	if rpcURL := strings.TrimSpace(os.Getenv("GATE_RPC_URL")); rpcURL != "" {
		programRaw := strings.TrimSpace(os.Getenv("GATE_PROGRAM_ID"))
		program, err := solana.PublicKeyFromBase58(programRaw)
		if err != nil {
			return nil, errors.New("GATE_PROGRAM_ID must be a base58 public key when GATE_RPC_URL is set")
		}
		return solrpc.NewReader(rpcURL, program), nil
	}
	snapshot := strings.TrimSpace(os.Getenv("GATE_LEDGER_SNAPSHOT"))
	if snapshot == "" {
		return nil, errors.New("set GATE_RPC_URL or GATE_LEDGER_SNAPSHOT")
	}
	return ledger.LoadMemory(snapshot)
}

func writeGateError(w http.ResponseWriter, log *zap.Logger, err error) {
	if errors.Is(err, gate.ErrOrderNotFound) {
		httpx.WriteError(w, 404, httpx.CodeNotFound, "order not found", nil)
		return
	}
	log.Error("gate", zap.Error(err))
	httpx.WriteError(w, 500, httpx.CodeInternal, "internal error", nil)
}
