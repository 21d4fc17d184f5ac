package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/fence-controller/db"
	"github.com/thatsimonsguy/fence-controller/internal/axis"
	"github.com/thatsimonsguy/fence-controller/internal/controllers/fencecontroller"
	"github.com/thatsimonsguy/fence-controller/internal/model"
	"github.com/thatsimonsguy/fence-controller/internal/units"
)

const (
	commandTimeout    = 5 * time.Second
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// Controller is the part of the fence controller the API drives.
type Controller interface {
	Status() fencecontroller.Status
	Submit(ctx context.Context, cmd fencecontroller.Command) error
}

type Server struct {
	db   *sql.DB
	ctrl Controller
}

type MoveRequest struct {
	Position *float64 `json:"position"`
	Unit     string   `json:"unit"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(database *sql.DB, ctrl Controller) *Server {
	return &Server{
		db:   database,
		ctrl: ctrl,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/axis", s.handleAxis)
	mux.HandleFunc("/api/axis/home", s.handleHome)
	mux.HandleFunc("/api/axis/move", s.handleMove)
	mux.HandleFunc("/api/axis/reset", s.handleReset)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/events", s.handleEvents)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		mux.ServeHTTP(w, r)
	})
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Info().Str("address", addr).Msg("Starting REST API server")

	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleAxis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.submit(w, r, fencecontroller.Command{Kind: fencecontroller.CommandHome}) {
		return
	}
	log.Info().Msg("Homing requested via API")
	s.writeJSON(w, http.StatusAccepted, s.ctrl.Status())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.submit(w, r, fencecontroller.Command{Kind: fencecontroller.CommandReset}) {
		return
	}
	log.Info().Msg("Servo reset requested via API")
	s.writeJSON(w, http.StatusAccepted, s.ctrl.Status())
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.Position == nil {
		s.writeError(w, http.StatusBadRequest, "position is required")
		return
	}

	unit := s.ctrl.Status().DisplayUnit
	if req.Unit != "" {
		unit = units.ParseUnit(req.Unit)
		if unit == units.Unknown {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown unit %q. Valid units: inches, millimeters", req.Unit))
			return
		}
	}

	target := units.Measurement{Value: *req.Position, Unit: unit}
	if !s.submit(w, r, fencecontroller.Command{Kind: fencecontroller.CommandMove, Target: target}) {
		return
	}

	log.Info().Str("target", target.String()).Msg("Move requested via API")
	s.writeJSON(w, http.StatusAccepted, s.ctrl.Status())
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getSettings(w, r)
	case http.MethodPut:
		s.putSettings(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := db.GetSettings(s.db)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, http.StatusNotFound, "Settings not found")
			return
		}
		log.Error().Err(err).Msg("Failed to get settings")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var settings model.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	if !s.submit(w, r, fencecontroller.Command{Kind: fencecontroller.CommandApplySettings, Settings: settings}) {
		return
	}

	log.Info().Str("mechanism", settings.MechanismType).Msg("Settings updated via API")
	s.getSettings(w, r)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := db.GetAxisEvents(s.db, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get axis events")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

// submit sends cmd to the controller and writes the error response if it
// fails. It reports whether the command succeeded.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, cmd fencecontroller.Command) bool {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	err := s.ctrl.Submit(ctx, cmd)
	if err == nil {
		return true
	}
	s.writeError(w, statusFor(err), err.Error())
	return false
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, axis.ErrNotHomed),
		errors.Is(err, axis.ErrMoveRejected),
		errors.Is(err, axis.ErrMoveInProgress):
		return http.StatusConflict
	case errors.Is(err, axis.ErrOutsideRange),
		errors.Is(err, units.ErrUnknownUnit),
		errors.Is(err, fencecontroller.ErrInvalidSettings):
		return http.StatusBadRequest
	case errors.Is(err, fencecontroller.ErrBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
