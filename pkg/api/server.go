package api

import (
	"bufio"
	"context"
	"errors"
	"io"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uhyunpark/trailstop/pkg/auth"
	"github.com/uhyunpark/trailstop/pkg/custody"
	"github.com/uhyunpark/trailstop/pkg/engine"
	"github.com/uhyunpark/trailstop/pkg/oracle"
	"github.com/uhyunpark/trailstop/pkg/order"
	"github.com/uhyunpark/trailstop/pkg/storage"
	"github.com/uhyunpark/trailstop/pkg/transaction"
	"github.com/uhyunpark/trailstop/pkg/util"
)

const (
	maxBodyBytes      = 1 << 20
	defaultEventLimit = 100
	maxEventLimit     = 1000
	requestIDHeader   = "X-Request-ID"
)

// Options configures optional server behaviour
type Options struct {
	Devnet         bool               // expose faucet and price endpoints
	Feed           *oracle.StaticFeed // price source controlled by the devnet endpoint
	RateLimit      float64            // requests per second, 0 = unlimited
	AllowedOrigins []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	engine   *engine.Engine
	ledger   *custody.Ledger
	verifier *transaction.Verifier
	opts     Options

	router  *mux.Router
	hub     *Hub
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// NewServer creates a new API server
func NewServer(eng *engine.Engine, ledger *custody.Ledger, verifier *transaction.Verifier, opts Options, logger *zap.SugaredLogger) *Server {
	logger = util.OrNop(logger)
	s := &Server{
		engine:   eng,
		ledger:   ledger,
		verifier: verifier,
		opts:     opts,
		router:   mux.NewRouter(),
		hub:      NewHub(logger),
		logger:   logger,
	}
	if opts.RateLimit > 0 {
		burst := max(int(opts.RateLimit), 1)
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if len(s.opts.AllowedOrigins) == 0 {
		s.opts.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}

	s.setupRoutes()
	return s
}

func (s *Server) log() *zap.SugaredLogger {
	return s.logger
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware, s.rateLimitMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	// Order queries
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances/{asset}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	// Signed order submission
	api.HandleFunc("/orders/simple", s.handleCreateSimple).Methods("POST")
	api.HandleFunc("/orders/trailing", s.handleCreateTrailing).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	// Permissionless settlement
	api.HandleFunc("/orders/{id:[0-9]+}/evaluate", s.handleEvaluate).Methods("POST")

	if s.opts.Devnet {
		api.HandleFunc("/devnet/faucet", s.handleFaucet).Methods("POST")
		api.HandleFunc("/devnet/prices", s.handleSetPrice).Methods("POST")
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves the API on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log().Infow("api_started", "addr", addr, "devnet", s.opts.Devnet)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// PublishEvent pushes a committed order event to WebSocket subscribers.
// Assigned to engine.OnEvent by the node.
func (s *Server) PublishEvent(ev order.Event) {
	update := OrderEventUpdate{
		Type:  "order_event",
		Event: toEventInfo(ev, s.decimals(context.Background())),
	}
	s.hub.BroadcastToChannel(ChannelOrders, update)
	s.hub.BroadcastToChannel(OwnerChannel(ev.Owner), update)
}

// ==============================
// Middleware
// ==============================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets the WebSocket upgrader take over the connection
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.log().Debugw("http_request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			respondError(w, http.StatusTooManyRequests, "rate limited", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.engine.Config(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, ConfigInfo{
		Admin:         cfg.Admin.Hex(),
		Oracle:        cfg.Oracle.Hex(),
		Router:        cfg.Router.Hex(),
		Custody:       s.ledger.Account().Hex(),
		Decimals:      cfg.Decimals,
		PriceScale:    intString(cfg.PriceScale),
		InitializedAt: cfg.InitializedAt,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDVar(w, r)
	if !ok {
		return
	}
	o, err := s.engine.GetOrder(r.Context(), id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, toOrderInfo(o, s.decimals(r.Context())))
}

// handleGetOrders lists an owner's orders; ?status=active filters by status
func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r, "address")
	if !ok {
		return
	}
	orders, err := s.engine.OrdersByOwner(r.Context(), addr)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	status := r.URL.Query().Get("status")
	decimals := s.decimals(r.Context())
	response := make([]OrderInfo, 0, len(orders))
	for _, o := range orders {
		if status != "" && o.Status.String() != status {
			continue
		}
		response = append(response, toOrderInfo(o, decimals))
	}
	respondJSON(w, response)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r, "address")
	if !ok {
		return
	}
	asset, ok := addressVar(w, r, "asset")
	if !ok {
		return
	}
	bal, err := s.ledger.Balance(s.engine.Store, addr, asset)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, BalanceInfo{Address: addr.Hex(), Asset: asset.Hex(), Balance: bal.String()})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var from uint64
	if v := q.Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid from", err.Error())
			return
		}
		from = n
	}
	limit := defaultEventLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", "")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := s.engine.Events(r.Context(), from, limit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	decimals := s.decimals(r.Context())
	response := make([]EventInfo, len(events))
	for i, ev := range events {
		response[i] = toEventInfo(ev, decimals)
	}
	respondJSON(w, response)
}

func (s *Server) handleCreateSimple(w http.ResponseWriter, r *http.Request) {
	req, owner, ok := s.authenticate(w, r, transaction.TypeSimpleTrigger)
	if !ok {
		return
	}
	p, err := req.Simple.ToEIP712()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}

	ctx := auth.WithCaller(r.Context(), owner)
	id, err := s.engine.CreateSimpleTrigger(ctx, p.Owner, p.SellAsset, p.BuyAsset, p.Amount, p.TriggerPrice)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, SubmitOrderResponse{Status: order.StatusActive.String(), OrderID: uint64(id), Owner: owner.Hex()})
}

func (s *Server) handleCreateTrailing(w http.ResponseWriter, r *http.Request) {
	req, owner, ok := s.authenticate(w, r, transaction.TypeTrailingStop)
	if !ok {
		return
	}
	p, err := req.Trailing.ToEIP712()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}
	ticker, err := oracle.ParseTicker(p.Ticker)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid ticker", err.Error())
		return
	}

	ctx := auth.WithCaller(r.Context(), owner)
	id, err := s.engine.CreateTrailingStopLoss(ctx, p.Owner, p.SellAsset, p.BuyAsset, p.Amount, p.TrailBps, ticker)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, SubmitOrderResponse{Status: order.StatusActive.String(), OrderID: uint64(id), Owner: owner.Hex()})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	req, owner, ok := s.authenticate(w, r, transaction.TypeCancel)
	if !ok {
		return
	}
	p, err := req.Cancel.ToEIP712()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}

	ctx := auth.WithCaller(r.Context(), owner)
	if err := s.engine.CancelOrder(ctx, p.Owner, order.ID(p.OrderID)); err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, SubmitOrderResponse{Status: order.StatusCancelled.String(), OrderID: p.OrderID, Owner: owner.Hex()})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDVar(w, r)
	if !ok {
		return
	}
	var req EvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ticker, err := oracle.ParseTicker(req.Ticker)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid ticker", err.Error())
		return
	}

	out, err := s.engine.EvaluateAndSettle(r.Context(), ticker, id, req.SlippageBps, req.DeadlineSeconds)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	response := EvaluateResponse{
		OrderID:      uint64(out.OrderID),
		Fired:        out.Fired,
		PeakUpdated:  out.PeakUpdated,
		Price:        intString(out.Price),
		PriceDecimal: priceDecimal(out.Price, s.decimals(r.Context())),
		Threshold:    intString(out.Threshold),
		MinOutput:    intString(out.MinOutput),
	}
	for _, a := range out.Amounts {
		response.Amounts = append(response.Amounts, intString(a))
	}
	respondJSON(w, response)
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.Address) || !common.IsHexAddress(req.Asset) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid amount", req.Amount)
		return
	}

	addr, asset := common.HexToAddress(req.Address), common.HexToAddress(req.Asset)
	var bal *big.Int
	err := s.engine.Update(func(tx *storage.Tx) error {
		if err := s.ledger.Deposit(tx, addr, asset, amount); err != nil {
			return err
		}
		var err error
		bal, err = s.ledger.Balance(tx, addr, asset)
		return err
	})
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.log().Infow("faucet_deposit", "address", addr.Hex(), "asset", asset.Hex(), "amount", amount.String())
	respondJSON(w, BalanceInfo{Address: addr.Hex(), Asset: asset.Hex(), Balance: bal.String()})
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	if s.opts.Feed == nil {
		respondError(w, http.StatusNotImplemented, "oracle is not devnet-controlled", "")
		return
	}
	var req PriceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ticker, err := oracle.ParseTicker(req.Ticker)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid ticker", err.Error())
		return
	}

	if req.Price == "" {
		s.opts.Feed.Clear(ticker)
		respondJSON(w, map[string]string{"ticker": ticker.String(), "status": "cleared"})
		return
	}
	price, ok := new(big.Int).SetString(req.Price, 10)
	if !ok || price.Sign() <= 0 {
		respondError(w, http.StatusBadRequest, "invalid price", req.Price)
		return
	}
	s.opts.Feed.SetPrice(ticker, price)
	s.log().Infow("devnet_price_set", "ticker", ticker.String(), "price", price.String())
	respondJSON(w, map[string]string{
		"ticker":       ticker.String(),
		"price":        price.String(),
		"priceDecimal": priceDecimal(price, s.decimals(r.Context())),
	})
}

// ==============================
// Helper Functions
// ==============================

// authenticate decodes a signed request of the wanted type and returns the
// owner that signed it
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, want transaction.RequestType) (*transaction.SignedRequest, common.Address, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return nil, common.Address{}, false
	}
	req, err := transaction.Deserialize(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signed request", err.Error())
		return nil, common.Address{}, false
	}
	if req.Type != want {
		respondError(w, http.StatusBadRequest, "invalid request type", "expected type="+string(want))
		return nil, common.Address{}, false
	}

	owner, err := s.verifier.Verify(req)
	if err != nil {
		s.log().Warnw("signed_request_rejected", "type", req.Type, "err", err)
		status := http.StatusUnauthorized
		switch {
		case errors.Is(err, transaction.ErrExpired):
			status = http.StatusBadRequest
		case errors.Is(err, storage.ErrNonceReused):
			status = http.StatusConflict
		}
		respondError(w, status, "request rejected", err.Error())
		return nil, common.Address{}, false
	}
	return req, owner, true
}

func (s *Server) decimals(ctx context.Context) uint32 {
	cfg, err := s.engine.Config(ctx)
	if err != nil {
		return 0
	}
	return cfg.Decimals
}

func orderIDVar(w http.ResponseWriter, r *http.Request) (order.ID, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return 0, false
	}
	return order.ID(id), true
}

func addressVar(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	v := mux.Vars(r)[name]
	if !common.IsHexAddress(v) {
		respondError(w, http.StatusBadRequest, "invalid "+name, v)
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

// statusFor maps an engine failure to an HTTP status
func statusFor(err error) int {
	switch order.CodeOf(err) {
	case order.CodeOrderNotFound:
		return http.StatusNotFound
	case order.CodeUnauthorized:
		return http.StatusUnauthorized
	case order.CodeOrderNotActive, order.CodeAlreadyInitialized:
		return http.StatusConflict
	case order.CodeInvalidParam:
		return http.StatusBadRequest
	case order.CodePriceNotAvailable, order.CodeNotInitialized:
		return http.StatusServiceUnavailable
	case order.CodeSwapFailed:
		return http.StatusBadGateway
	}
	if errors.Is(err, custody.ErrInsufficientBalance) || errors.Is(err, custody.ErrInvalidAmount) ||
		errors.Is(err, custody.ErrCustodyAccount) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log().Errorw("request_failed", "err", err)
	}

	code := string(order.CodeOf(err))
	if code == "" && errors.Is(err, custody.ErrInsufficientBalance) {
		code = "insufficient_balance"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Code:    code,
		Message: err.Error(),
	})
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
