// Package httpapi serves the auction house over HTTP and provides the
// client the bot uses to reach it.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/auction-house/internal/auction"
	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/config"
	"github.com/jensholdgaard/auction-house/internal/event"
	"github.com/jensholdgaard/auction-house/internal/house"
	"github.com/jensholdgaard/auction-house/internal/store"
)

// Headers understood by the API.
const (
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// House is the service behind the API.
type House interface {
	CreateAuction(ctx context.Context, creatorID string, req auction.Request) (auction.Record, error)
	ListAuctions(ctx context.Context, q store.Query) ([]auction.Record, error)
	GetAuction(ctx context.Context, id string) (auction.Record, error)
	PurchaseAuction(ctx context.Context, id, buyerID, key string) (auction.Record, error)
	UserBalance(ctx context.Context, userID string) (auction.Balance, error)
	ClaimDailyAllowance(ctx context.Context, userID string) (auction.Balance, error)
	Grant(ctx context.Context, userID string, cur auction.Currency, amount decimal.Decimal, reason string) (auction.Balance, error)
	History(ctx context.Context, id string) ([]event.Event, error)
	Resolve(ctx context.Context, o house.Outcome) (auction.Record, error)
}

// Server routes API requests to a House.
type Server struct {
	house   House
	admins  []string
	limiter *limiter
	clock   clock.Clock
	logger  *slog.Logger
}

// NewServer creates a Server. Admins may grant balance and post outcomes.
func NewServer(h House, rl config.RateLimitConfig, admins []string, clk clock.Clock, logger *slog.Logger) *Server {
	return &Server{
		house:   h,
		admins:  admins,
		limiter: newLimiter(rl.RequestsPerSecond, rl.Burst),
		clock:   clk,
		logger:  logger,
	}
}

// Register mounts the API under /api/v1 on r.
func (s *Server) Register(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.logRequests, s.rateLimit)

	api.HandleFunc("/auctions", s.createAuction).Methods(http.MethodPost)
	api.HandleFunc("/auctions", s.listAuctions).Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}", s.getAuction).Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}/events", s.auctionEvents).Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}/purchase", s.purchaseAuction).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}/balance", s.userBalance).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/daily", s.claimDaily).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}/grants", s.grant).Methods(http.MethodPost)
	api.HandleFunc("/outcomes", s.resolve).Methods(http.MethodPost)
}

// Handler returns a router serving only the API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.Register(r)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.String("user_id", r.Header.Get(HeaderUserID)),
			slog.Duration("duration", s.clock.Now().Sub(start)),
		)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderUserID)
		if key == "" {
			key = r.RemoteAddr
		}
		if !s.limiter.allow(key, s.clock.Now()) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, ErrorBody{Code: CodeRateLimited, Message: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	writeJSON(w, status, body)
}

func caller(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return "", auction.Reject(auction.ErrValidation, "missing %s header", HeaderUserID)
	}
	return id, nil
}

func (s *Server) requireAdmin(r *http.Request) (string, bool) {
	id, err := caller(r)
	return id, err == nil && slices.Contains(s.admins, id)
}

func (s *Server) createAuction(w http.ResponseWriter, r *http.Request) {
	creatorID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req auction.Request
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.house.CreateAuction(r.Context(), creatorID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) listAuctions(w http.ResponseWriter, r *http.Request) {
	q, err := ParseQuery(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	recs, err := s.house.ListAuctions(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []auction.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) getAuction(w http.ResponseWriter, r *http.Request) {
	rec, err := s.house.GetAuction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) auctionEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.house.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) purchaseAuction(w http.ResponseWriter, r *http.Request) {
	buyerID, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	key := r.Header.Get(HeaderIdempotencyKey)
	rec, err := s.house.PurchaseAuction(r.Context(), mux.Vars(r)["id"], buyerID, key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) userBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.house.UserBalance(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *Server) claimDaily(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if id, err := caller(r); err != nil || id != userID {
		s.fail(w, r, auction.Reject(ErrForbidden, "only the account holder may claim"))
		return
	}
	bal, err := s.house.ClaimDailyAllowance(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// GrantRequest is the body of POST /users/{id}/grants.
type GrantRequest struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
}

func (s *Server) grant(w http.ResponseWriter, r *http.Request) {
	adminID, ok := s.requireAdmin(r)
	if !ok {
		s.fail(w, r, auction.Reject(ErrForbidden, "admin only"))
		return
	}
	var req GrantRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	cur, err := auction.NormalizeCurrency(req.Currency)
	if err != nil {
		s.fail(w, r, auction.Reject(auction.ErrValidation, "%v", err))
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "granted by " + adminID
	}
	bal, err := s.house.Grant(r.Context(), mux.Vars(r)["id"], cur, req.Amount, reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(r); !ok {
		s.fail(w, r, auction.Reject(ErrForbidden, "admin only"))
		return
	}
	var o house.Outcome
	if err := decode(w, r, &o); err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.house.Resolve(r.Context(), o)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return auction.Reject(auction.ErrValidation, "malformed body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

const dayLayout = "2006-01-02"

// ParseQuery reads a store.Query from URL parameters.
func ParseQuery(v map[string][]string) (store.Query, error) {
	get := func(k string) string {
		if vals := v[k]; len(vals) > 0 {
			return strings.TrimSpace(vals[0])
		}
		return ""
	}
	q := store.Query{
		CreatorID:        get("creator"),
		ExcludeCreatorID: get("exclude_creator"),
		ParticipantID:    get("participant"),
		Sport:            get("sport"),
		Game:             get("game"),
		UnreturnedStake:  get("unreturned") == "true",
	}
	if raw := get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := auction.ParseStatus(part)
			if err != nil {
				return store.Query{}, auction.Reject(auction.ErrValidation, "%v", err)
			}
			q.Statuses = append(q.Statuses, st)
		}
	}
	if raw := get("game_day"); raw != "" {
		day, err := time.Parse(dayLayout, raw)
		if err != nil {
			return store.Query{}, auction.Reject(auction.ErrValidation, "game_day must be YYYY-MM-DD")
		}
		q.GameDay = day
	}
	if raw := get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return store.Query{}, auction.Reject(auction.ErrValidation, "limit must be a non-negative integer")
		}
		q.Limit = n
	}
	return q, nil
}

// EncodeQuery is the inverse of ParseQuery.
func EncodeQuery(q store.Query) map[string][]string {
	v := map[string][]string{}
	set := func(k, val string) {
		if val != "" {
			v[k] = []string{val}
		}
	}
	set("creator", q.CreatorID)
	set("exclude_creator", q.ExcludeCreatorID)
	set("participant", q.ParticipantID)
	set("sport", q.Sport)
	set("game", q.Game)
	if q.UnreturnedStake {
		set("unreturned", "true")
	}
	if len(q.Statuses) > 0 {
		parts := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			parts[i] = string(st)
		}
		set("status", strings.Join(parts, ","))
	}
	if !q.GameDay.IsZero() {
		set("game_day", q.GameDay.UTC().Format(dayLayout))
	}
	if q.Limit > 0 {
		set("limit", strconv.Itoa(q.Limit))
	}
	return v
}
