// Package trade provides the HTTP handlers and WebSocket hub that expose the
// simulation to a presentation layer: the read interface (state, assets,
// positions, quests, trees, journal) and the two player actions.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ecosim/perps-engine/internal/asset"
	"github.com/ecosim/perps-engine/internal/history"
	"github.com/ecosim/perps-engine/internal/journal"
	"github.com/ecosim/perps-engine/internal/ledger"
	"github.com/ecosim/perps-engine/internal/model"
	"github.com/ecosim/perps-engine/internal/risk"
	"github.com/ecosim/perps-engine/internal/sim"
	"github.com/ecosim/perps-engine/internal/store"
)

const (
	defaultJournalLimit = 100
	maxJournalLimit     = 1000
)

// Engine is the part of *sim.Engine the handlers need.
type Engine interface {
	Snapshot() *model.GameState
	OpenPosition(req sim.OpenRequest) (model.Position, error)
	ClosePosition(id string) (sim.ClosedPosition, error)
}

// Service serves the simulation over HTTP. It holds no game state of its
// own; every read is a snapshot from the engine.
type Service struct {
	engine  Engine
	catalog *asset.Catalog
	store   store.Store
}

// NewService creates a new trade service.
func NewService(engine Engine, catalog *asset.Catalog, st store.Store) *Service {
	return &Service{
		engine:  engine,
		catalog: catalog,
		store:   st,
	}
}

// Routes returns the /api/v1 handlers, without the WebSocket endpoint.
func (s *Service) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/state", s.GetState)
	r.Get("/assets", s.ListAssets)
	r.Get("/assets/{symbol}/history", s.GetAssetHistory)
	r.Get("/positions", s.ListPositions)
	r.Post("/positions", s.OpenPosition)
	r.Delete("/positions/{positionID}", s.ClosePosition)
	r.Get("/quests", s.ListQuests)
	r.Get("/trees", s.ListTrees)
	r.Get("/journal", s.ListJournal)
	r.Get("/journal/export", s.ExportJournal)
	r.Get("/journal/stats", s.GetJournalStats)
	r.Get("/journal/positions/{positionID}", s.GetPositionJournal)
	return r
}

// --- Request/Response types ---

// OpenPositionRequest is the JSON body for POST /positions.
type OpenPositionRequest struct {
	Symbol    string          `json:"symbol"`    // ETH, BTC, SOL
	Direction string          `json:"direction"` // "LONG" or "SHORT"
	Amount    decimal.Decimal `json:"amount"`    // collateral
	Leverage  int             `json:"leverage"`  // 1..5
}

// ClosePositionResponse is the JSON body returned from DELETE /positions/{id}.
type ClosePositionResponse struct {
	Position model.Position     `json:"position"`
	Released decimal.Decimal    `json:"released"`
	Tree     *model.PlantedTree `json:"tree,omitempty"`
	Balance  decimal.Decimal    `json:"balance"`
}

// AssetView is a catalog asset with its live price.
type AssetView struct {
	model.Asset
	ChangePercent decimal.Decimal `json:"change_percent"` // over the history window
}

// HistoryResponse is the JSON body for GET /assets/{symbol}/history.
type HistoryResponse struct {
	Symbol  model.AssetSymbol  `json:"symbol"`
	Samples []model.PricePoint `json:"samples"`
	Summary history.Summary    `json:"summary"`
}

// --- HTTP Handlers ---

// GetState handles GET /api/v1/state
func (s *Service) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// ListAssets handles GET /api/v1/assets
func (s *Service) ListAssets(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()

	assets := make([]AssetView, 0, len(s.catalog.Symbols()))
	for _, a := range s.catalog.All() {
		if px, ok := snap.Prices[a.Symbol]; ok {
			a.Price = px
		}
		assets = append(assets, AssetView{
			Asset:         a,
			ChangePercent: history.Summarize(snap.History[a.Symbol]).ChangePercent,
		})
	}
	writeJSON(w, http.StatusOK, assets)
}

// GetAssetHistory handles GET /api/v1/assets/{symbol}/history
func (s *Service) GetAssetHistory(w http.ResponseWriter, r *http.Request) {
	a, err := s.catalog.Lookup(chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, err.Error(), lookupStatus(err))
		return
	}

	samples := s.engine.Snapshot().History[a.Symbol]
	if samples == nil {
		samples = []model.PricePoint{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		Symbol:  a.Symbol,
		Samples: samples,
		Summary: history.Summarize(samples),
	})
}

// ListPositions handles GET /api/v1/positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot().Positions)
}

// OpenPosition handles POST /api/v1/positions
func (s *Service) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a, err := s.catalog.Lookup(req.Symbol)
	if err != nil {
		writeError(w, err.Error(), lookupStatus(err))
		return
	}
	dir, err := asset.ParseDirection(req.Direction)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	pos, err := s.engine.OpenPosition(sim.OpenRequest{
		Symbol:    a.Symbol,
		Direction: dir,
		Amount:    req.Amount,
		Leverage:  req.Leverage,
	})
	if err != nil {
		writeError(w, err.Error(), openStatus(err))
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}

// ClosePosition handles DELETE /api/v1/positions/{positionID}
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")

	closed, err := s.engine.ClosePosition(positionID)
	if err != nil {
		if errors.Is(err, sim.ErrPositionNotFound) {
			writeError(w, "position not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ClosePositionResponse{
		Position: closed.Position,
		Released: closed.Released,
		Tree:     closed.Tree,
		Balance:  s.engine.Snapshot().Balance,
	})
}

// ListQuests handles GET /api/v1/quests
func (s *Service) ListQuests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot().Quests)
}

// ListTrees handles GET /api/v1/trees
func (s *Service) ListTrees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot().PlantedTrees)
}

// ListJournal handles GET /api/v1/journal?limit=N
// Returns the most recent journal entries, newest first.
func (s *Service) ListJournal(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	entries, err := s.store.ListLedgerEntries(r.Context(), limit)
	if err != nil {
		slog.Error("list journal failed", "err", err)
		writeError(w, "failed to list journal", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ExportJournal handles GET /api/v1/journal/export
// Streams the whole journal as CSV, oldest first.
func (s *Service) ExportJournal(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListLedgerEntries(r.Context(), 0)
	if err != nil {
		slog.Error("export journal failed", "err", err)
		writeError(w, "failed to export journal", http.StatusInternalServerError)
		return
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="journal.csv"`)
	if err := journal.WriteCSV(w, entries); err != nil {
		slog.Error("write journal csv failed", "err", err)
	}
}

// GetJournalStats handles GET /api/v1/journal/stats
func (s *Service) GetJournalStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetJournalStats(r.Context())
	if err != nil {
		slog.Error("journal stats failed", "err", err)
		writeError(w, "failed to load journal stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetPositionJournal handles GET /api/v1/journal/positions/{positionID}
func (s *Service) GetPositionJournal(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")

	entries, err := s.store.GetLedgerEntriesByPosition(r.Context(), positionID)
	if err != nil {
		slog.Error("position journal failed", "position_id", positionID, "err", err)
		writeError(w, "failed to load position journal", http.StatusInternalServerError)
		return
	}
	if len(entries) == 0 {
		writeError(w, "no journal entries for position", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- helpers ---

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultJournalLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		writeError(w, "limit must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	if limit > maxJournalLimit {
		limit = maxJournalLimit
	}
	return limit, true
}

func lookupStatus(err error) int {
	if errors.Is(err, asset.ErrUnknownSymbol) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

// openStatus maps an engine open error to an HTTP status.
func openStatus(err error) int {
	switch {
	case errors.Is(err, sim.ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, risk.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, risk.ErrInvalidCollateral),
		errors.Is(err, ledger.ErrInvalidCollateral),
		errors.Is(err, ledger.ErrInvalidLeverage),
		errors.Is(err, ledger.ErrInvalidDirection),
		errors.Is(err, ledger.ErrInvalidEntryPrice):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
