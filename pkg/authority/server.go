package authority

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/proxkey/proxkey-go/pkg/crypto"
	"github.com/proxkey/proxkey-go/pkg/keystore"
	"github.com/proxkey/proxkey-go/pkg/pairing"
)

// maxBodySize bounds request bodies.
const maxBodySize = 16 * 1024

// pairingIDSize is the random part of a pairing ID (16 hex characters).
const pairingIDSize = 8

// Config configures a Server.
type Config struct {
	// Store persists pairings. Required.
	Store Store

	// Version is reported by /health.
	Version string

	// Now returns the current time. Nil means time.Now.
	Now func() time.Time

	// Logger for request handling. Nil uses slog.Default().
	Logger *slog.Logger
}

// Server implements the authority HTTP API.
type Server struct {
	store     Store
	version   string
	now       func() time.Time
	logger    *slog.Logger
	validator *validator
	mux       *http.ServeMux
}

// NewServer creates a Server and registers its routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("authority: store is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	v, err := newValidator()
	if err != nil {
		return nil, err
	}

	s := &Server{
		store:     cfg.Store,
		version:   cfg.Version,
		now:       cfg.Now,
		logger:    cfg.Logger,
		validator: v,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST "+pairing.PathPairing, s.handlePairing)
	s.mux.HandleFunc("POST /owner-pairing", s.handlePairing)

	s.mux.HandleFunc("GET "+pairing.PathPairingStatus+"{vehicle_id}", s.handleStatus)
	s.mux.HandleFunc("GET /check-pairing/{vehicle_id}", s.handleStatus)

	s.mux.HandleFunc("POST "+pairing.PathGenerateKey, s.handleGenerateKey)
	s.mux.HandleFunc("POST /api/generate-key", s.handleGenerateKey)

	s.mux.HandleFunc("GET "+pairing.PathVehicles, s.handleListVehicles)
	s.mux.HandleFunc("GET "+pairing.PathVehicle+"{vehicle_id}", s.handleGetVehicle)
	s.mux.HandleFunc("DELETE "+pairing.PathVehicle+"{vehicle_id}", s.handleDeleteVehicle)
	s.mux.HandleFunc("GET "+pairing.PathVehicle+"{vehicle_id}"+pairing.PathVehiclePairing, s.handlePairingKey)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version := s.version
	if version == "" {
		version = "dev"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version,
	})
}

// handlePairing handles POST /pairing.
func (s *Server) handlePairing(w http.ResponseWriter, r *http.Request) {
	var req pairing.PairingRequest
	if !s.readBody(w, r, schemaPairingRequest, &req) {
		return
	}

	tagPub, err := base64.StdEncoding.DecodeString(req.PublicKeyB64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid public key", err.Error())
		return
	}
	if _, err := crypto.ParsePublicKeyDER(tagPub); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid public key", err.Error())
		return
	}

	resp, rec, err := s.seal(req.VehicleID, tagPub)
	if err != nil {
		s.logger.Error("authority: pairing failed", "vehicle", req.VehicleID, "error", err)
		writeError(w, http.StatusInternalServerError, "Pairing failed", "")
		return
	}

	if err := s.store.SavePairing(r.Context(), rec); err != nil {
		s.logger.Error("authority: store pairing", "vehicle", req.VehicleID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store pairing", "")
		return
	}

	s.logger.Info("authority: vehicle paired", "vehicle", req.VehicleID, "pairing_id", rec.PairingID)
	writeJSON(w, http.StatusOK, resp)
}

// seal generates a pairing key and wraps it for the Tag's public key.
func (s *Server) seal(vehicleID string, tagPub []byte) (*pairing.PairingResponse, *Pairing, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	shared, err := crypto.ECDH(kp, tagPub)
	if err != nil {
		return nil, nil, err
	}
	kek, err := crypto.HKDFSHA256(nil, shared, []byte(pairing.KEKInfo), pairing.KEKSize)
	if err != nil {
		return nil, nil, err
	}

	key, err := crypto.RandomBytes(keystore.PairingKeySize)
	if err != nil {
		return nil, nil, err
	}
	nonce, err := crypto.RandomBytes(crypto.NonceSize)
	if err != nil {
		return nil, nil, err
	}
	id, err := crypto.RandomBytes(pairingIDSize)
	if err != nil {
		return nil, nil, err
	}

	sealed, err := crypto.AESGCMSeal(kek, nonce, key, nil)
	if err != nil {
		return nil, nil, err
	}
	serverPub, err := kp.PublicKeyDER()
	if err != nil {
		return nil, nil, err
	}

	rec := &Pairing{
		VehicleID:  vehicleID,
		PairingID:  hex.EncodeToString(id),
		PairingKey: key,
		CreatedAt:  s.now().UTC(),
	}
	resp := &pairing.PairingResponse{
		PairingID:              rec.PairingID,
		ServerPublicKeyB64:     base64.StdEncoding.EncodeToString(serverPub),
		EncryptedPairingKeyB64: base64.StdEncoding.EncodeToString(sealed),
		NonceB64:               base64.StdEncoding.EncodeToString(nonce),
	}
	return resp, rec, nil
}

// handleStatus handles GET /pairing-status/{vehicle_id}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	vehicleID := r.PathValue("vehicle_id")

	p, err := s.store.GetPairing(r.Context(), vehicleID)
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusOK, pairing.Status{
			Paired:    false,
			VehicleID: vehicleID,
			Message:   "Vehicle not paired",
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read pairing", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, pairing.Status{
		Paired:    true,
		VehicleID: vehicleID,
		PairingID: p.PairingID,
		PairedAt:  p.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// handleGenerateKey handles POST /generate-key.
func (s *Server) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	var req pairing.VehicleKeyRequest
	if !s.readBody(w, r, schemaVehicleKeyRequest, &req) {
		return
	}

	key, err := crypto.RandomBytes(keystore.VehicleKeySize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Key generation failed", "")
		return
	}
	rec := &VehicleKey{VIN: req.VIN, DeviceID: req.DeviceID, Key: key, CreatedAt: s.now().UTC()}
	if err := s.store.SaveVehicleKey(r.Context(), rec); err != nil {
		s.logger.Error("authority: store vehicle key", "vin", req.VIN, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store vehicle key", "")
		return
	}

	s.logger.Info("authority: vehicle key issued", "vin", req.VIN, "device", req.DeviceID)
	writeJSON(w, http.StatusOK, pairing.VehicleKeyResponse{
		VehicleKeyB64: base64.StdEncoding.EncodeToString(key),
	})
}

// VehicleInfo describes a paired vehicle without its key.
type VehicleInfo struct {
	VehicleID string    `json:"vehicle_id"`
	PairingID string    `json:"pairing_id"`
	CreatedAt time.Time `json:"created_at"`
}

// VehicleListResponse is the body of GET /vehicles.
type VehicleListResponse struct {
	Total    int           `json:"total"`
	Vehicles []VehicleInfo `json:"vehicles"`
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListPairings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list vehicles", err.Error())
		return
	}

	resp := VehicleListResponse{Total: len(list), Vehicles: make([]VehicleInfo, 0, len(list))}
	for _, p := range list {
		resp.Vehicles = append(resp.Vehicles, VehicleInfo{
			VehicleID: p.VehicleID,
			PairingID: p.PairingID,
			CreatedAt: p.CreatedAt.UTC(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, VehicleInfo{
		VehicleID: p.VehicleID,
		PairingID: p.PairingID,
		CreatedAt: p.CreatedAt.UTC(),
	})
}

func (s *Server) handleDeleteVehicle(w http.ResponseWriter, r *http.Request) {
	vehicleID := r.PathValue("vehicle_id")

	err := s.store.DeletePairing(r.Context(), vehicleID)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "Vehicle not found", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete vehicle", err.Error())
		return
	}

	s.logger.Info("authority: vehicle deleted", "vehicle", vehicleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message":    "Vehicle deleted successfully",
		"vehicle_id": vehicleID,
	})
}

// handlePairingKey serves the pairing record to Anchor provisioning.
func (s *Server) handlePairingKey(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, pairing.PairingRecord{
		VehicleID:     p.VehicleID,
		PairingID:     p.PairingID,
		PairingKeyB64: base64.StdEncoding.EncodeToString(p.PairingKey),
		CreatedAt:     p.CreatedAt.UTC(),
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*Pairing, bool) {
	p, err := s.store.GetPairing(r.Context(), r.PathValue("vehicle_id"))
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "Vehicle not found", "")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read pairing", err.Error())
		return nil, false
	}
	return p, true
}

// readBody reads, validates and decodes a JSON request body. It writes the
// error response and returns false on failure.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request, schema string, out any) bool {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", "")
		return false
	}
	if err := s.validator.decode(schema, data, out); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, pairing.ErrorResponse{Error: message, Details: details})
}

