// Package api exposes the engine over REST and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainmatch/chainbook/params"
	"github.com/chainmatch/chainbook/pkg/book"
	"github.com/chainmatch/chainbook/pkg/chain"
	"github.com/chainmatch/chainbook/pkg/exchange"
	"github.com/chainmatch/chainbook/pkg/settle"
)

type Server struct {
	ex        *exchange.Exchange
	validator *settle.Validator
	cfg       params.Config
	router    *mux.Router
	hub       *Hub
	log       *zap.Logger
	http      *http.Server
}

func NewServer(ex *exchange.Exchange, validator *settle.Validator, cfg params.Config, logger *zap.Logger) *Server {
	s := &Server{
		ex:        ex,
		validator: validator,
		cfg:       cfg,
		router:    mux.NewRouter(),
		hub:       NewHub(logger),
		log:       logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")

	api.HandleFunc("/escrow/{network}/{account}/{asset}", s.handleGetEscrowBalance).Methods("GET")
	api.HandleFunc("/settlement/{network}/health", s.handleSettlementHealth).Methods("GET")
	api.HandleFunc("/activity", s.handleGetActivity).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.http = &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: c.Handler(s.router),
	}

	s.log.Info("api server starting", zap.String("addr", s.cfg.Server.ListenAddr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid quantity", err.Error())
		return
	}
	price := decimal.Zero
	if req.Price != "" {
		if price, err = decimal.NewFromString(req.Price); err != nil {
			respondError(w, http.StatusBadRequest, "invalid price", err.Error())
			return
		}
	}

	res, err := s.ex.PlaceOrder(r.Context(), exchange.OrderRequest{
		Symbol:        req.Symbol,
		Account:       req.Account,
		Side:          req.Side,
		Type:          req.Type,
		Price:         price,
		Quantity:      quantity,
		FromNetwork:   req.FromNetwork,
		ToNetwork:     req.ToNetwork,
		ReceiveWallet: req.ReceiveWallet,
	})
	if err != nil {
		status := http.StatusBadRequest
		if res != nil && res.Settlement != nil {
			// Matched but settlement failed; the order was rolled back.
			status = http.StatusUnprocessableEntity
		}
		respondError(w, status, settle.CodeOf(err), err.Error())
		return
	}

	resp := buildPlaceResponse(res)
	respondJSON(w, resp)

	if len(res.Trades) > 0 {
		s.hub.BroadcastToChannel("trades:"+req.Symbol, WSMessage{
			Channel: "trades:" + req.Symbol,
			Data:    resp.Trades,
		})
		s.broadcastOrderbook(req.Symbol)
	}
}

func buildPlaceResponse(res *exchange.PlaceResult) PlaceOrderResponse {
	resp := PlaceOrderResponse{
		OrderID: res.OrderID,
		Trades:  make([]TradeInfo, 0, len(res.Trades)),
	}
	for _, t := range res.Trades {
		resp.Trades = append(resp.Trades, tradeInfo(t))
	}
	if res.Resting != nil {
		resp.Resting = &RestingInfo{Price: res.Resting.Price, Quantity: res.Resting.Quantity}
	}
	if res.Settlement != nil {
		for _, r := range res.Settlement.Results {
			info := SettlementInfo{
				SettlementID: r.SettlementID.Hex(),
				Success:      r.Success,
				SameChain:    r.SameChain,
				Partial:      r.Partial,
				Error:        r.ErrCode,
			}
			if r.Source.Submitted && r.Source.Err == nil {
				info.TxHashSource = r.Source.TxHash.Hex()
			}
			if r.SameChain {
				info.TxHashDestination = info.TxHashSource
			} else if r.Destination.Submitted && r.Destination.Err == nil {
				info.TxHashDestination = r.Destination.TxHash.Hex()
			}
			resp.Settlements = append(resp.Settlements, info)
		}
	}
	return resp
}

func tradeInfo(t book.Trade) TradeInfo {
	return TradeInfo{
		Price:     t.Price,
		Quantity:  t.Quantity,
		Timestamp: t.Timestamp,
		Maker:     partyInfo(t.Party1),
		Taker:     partyInfo(t.Party2),
	}
}

func partyInfo(p book.Party) PartyInfo {
	return PartyInfo{
		Account:   p.Account,
		Side:      string(p.Side),
		OrderID:   p.OrderID,
		Remaining: p.Remaining,
	}
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}

	order, err := s.ex.CancelOrder(req.Symbol, req.Side, req.OrderID)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, book.ErrOrderNotFound) {
			status = http.StatusNotFound
		}
		respondError(w, status, "cancel failed", err.Error())
		return
	}

	respondJSON(w, map[string]interface{}{
		"order_id":  order.ID,
		"remaining": order.Quantity,
	})
	s.broadcastOrderbook(req.Symbol)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	respondJSON(w, s.orderbookSnapshot(symbol))
}

func (s *Server) orderbookSnapshot(symbol string) OrderbookSnapshot {
	depth := s.ex.Depth(symbol)

	snap := OrderbookSnapshot{
		Symbol:    symbol,
		Bids:      make([]PriceLevel, 0, len(depth.Bids)),
		Asks:      make([]PriceLevel, 0, len(depth.Asks)),
		Timestamp: time.Now().UnixMilli(),
	}
	for _, l := range depth.Bids {
		snap.Bids = append(snap.Bids, PriceLevel{Price: l.Price, Quantity: l.Quantity, Orders: l.Orders})
	}
	for _, l := range depth.Asks {
		snap.Asks = append(snap.Asks, PriceLevel{Price: l.Price, Quantity: l.Quantity, Orders: l.Orders})
	}
	return snap
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	limit := queryInt(r, "limit", 100)

	trades := s.ex.Trades(symbol, limit)
	out := make([]TradeInfo, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeInfo(t))
	}
	respondJSON(w, out)
}

func (s *Server) handleGetEscrowBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	network, ok := s.cfg.Networks[vars["network"]]
	if !ok {
		respondError(w, http.StatusNotFound, settle.CodeMissingNetwork, vars["network"])
		return
	}

	bal, decimals, err := s.validator.EscrowBalanceOf(r.Context(), network, vars["account"], vars["asset"])
	if err != nil {
		respondError(w, http.StatusBadRequest, settle.CodeOf(err), err.Error())
		return
	}

	respondJSON(w, EscrowBalanceResponse{
		Network:   network.Name,
		Account:   vars["account"],
		Asset:     vars["asset"],
		Total:     chain.FromUnits(bal.Total, decimals),
		Available: chain.FromUnits(bal.Available, decimals),
		Locked:    chain.FromUnits(bal.Locked, decimals),
		Decimals:  decimals,
	})
}

func (s *Server) handleSettlementHealth(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["network"]
	network, ok := s.cfg.Networks[name]
	if !ok {
		respondError(w, http.StatusNotFound, settle.CodeMissingNetwork, name)
		return
	}

	health, err := s.validator.SettlementHealth(r.Context(), network)
	if err != nil {
		respondError(w, http.StatusBadGateway, settle.CodeOf(err), err.Error())
		return
	}
	respondJSON(w, health)
}

func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	respondJSON(w, s.ex.Activity().Recent(limit))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{
		"status":  "ok",
		"symbols": s.ex.Symbols(),
	})
}

func (s *Server) broadcastOrderbook(symbol string) {
	s.hub.BroadcastToChannel("orderbook:"+symbol, WSMessage{
		Channel: "orderbook:" + symbol,
		Data:    s.orderbookSnapshot(symbol),
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errCode string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errCode, Message: message})
}
