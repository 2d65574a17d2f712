package httpapi

// #region imports
import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/promopilot/promopilot/internal/approval"
	"github.com/promopilot/promopilot/internal/driver"
	"github.com/promopilot/promopilot/internal/store"
	"github.com/promopilot/promopilot/internal/target"
)

// #endregion

// #region server

// Server is the control surface. It only ever reads synchronized snapshots
// and issues control actions; it never waits on an in-flight pipeline stage.
type Server struct {
	driver  *driver.Driver
	store   *store.Store
	gateway *approval.Gateway
}

func NewServer(d *driver.Driver, st *store.Store, gw *approval.Gateway) *Server {
	return &Server{driver: d, store: st, gateway: gw}
}

// Router wires all control routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Post("/agent/start", s.handleStart)
	r.Post("/agent/stop", s.handleStop)
	r.Post("/agent/trigger", s.handleTrigger)

	r.Get("/promotions", s.handlePromotions)

	r.Get("/approvals", s.handleApprovals)
	r.Post("/approvals/{id}/approve", s.handleApprove)
	r.Post("/approvals/{id}/reject", s.handleReject)

	return r
}

// #endregion

// #region helpers

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[http] response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, store.ErrUnavailable):
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// #endregion

// #region health-status

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.driver.Status())
}

// #endregion

// #region agent-control

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.driver.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.driver.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.driver.Stop(r.Context())
	writeJSON(w, http.StatusOK, s.driver.Status())
}

type triggerRequest struct {
	LocationID int `json:"location_id"`
	ProductID  int `json:"product_id"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return
	}
	if req.LocationID <= 0 || req.ProductID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "location_id and product_id required"})
		return
	}
	rec := s.driver.TriggerOnce(r.Context(), target.Target{LocationID: req.LocationID, ProductID: req.ProductID})
	writeJSON(w, http.StatusOK, map[string]any{
		"target":       rec.Target,
		"outcome":      rec.Outcome,
		"note":         rec.OutcomeNote,
		"promotion_id": rec.PromotionID,
		"pending_id":   rec.PendingID,
	})
}

// #endregion

// #region promotions

func (s *Server) handlePromotions(w http.ResponseWriter, r *http.Request) {
	st := store.PromotionStatus(r.URL.Query().Get("status"))
	if st == "" {
		st = store.PromotionActive
	}
	switch st {
	case store.PromotionPending, store.PromotionActive, store.PromotionCompleted, store.PromotionRetracted:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status " + string(st)})
		return
	}
	promos, err := s.store.ListPromotions(r.Context(), st)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"promotions": promos, "count": len(promos)})
}

// #endregion

// #region approvals

type reviewRequest struct {
	Reviewer string `json:"reviewer"`
	Note     string `json:"note"`
}

func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.store.ListPendingPromotions(r.Context(), store.PendingReview)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending, "count": len(pending)})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return
	}
	promo, err := s.gateway.Approve(r.Context(), id, req.Reviewer, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"promotion": promo})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return
	}
	if err := s.gateway.Reject(r.Context(), id, req.Reviewer, req.Note); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// #endregion
