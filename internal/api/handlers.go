package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/adherence/internal/compliance"
	"github.com/goodtune/adherence/internal/storage"
	"github.com/gorilla/mux"
)

// defaultUsageDays is the window of the usage listing when days is omitted.
const defaultUsageDays = 7

// defaultDeviceName names devices registered without one.
const defaultDeviceName = "ESP Device"

// LoginRequest identifies a patient or doctor by name and role identifier.
type LoginRequest struct {
	Name      string `json:"name"`
	UserType  string `json:"user_type"`
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
}

// LoginResponse is returned after a successful login.
type LoginResponse struct {
	Success bool     `json:"success"`
	User    UserInfo `json:"user"`
	Token   string   `json:"token"`
}

// UserInfo describes the resolved identity.
type UserInfo struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	UserType  storage.Role `json:"user_type"`
	PatientID string       `json:"patient_id,omitempty"`
	DoctorID  string       `json:"doctor_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// RegisterDeviceRequest registers a device. Both fields are optional.
type RegisterDeviceRequest struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// RecordResponse is returned after a usage report is recorded.
type RecordResponse struct {
	Success bool                 `json:"success"`
	Session storage.UsageSession `json:"session"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	name := strings.TrimSpace(req.Name)
	role := storage.Role(strings.ToLower(strings.TrimSpace(req.UserType)))
	var roleIdentifier string
	switch role {
	case storage.RolePatient:
		roleIdentifier = strings.TrimSpace(req.PatientID)
	case storage.RoleDoctor:
		roleIdentifier = strings.TrimSpace(req.DoctorID)
	default:
		writeError(w, http.StatusBadRequest, "user_type must be patient or doctor")
		return
	}
	if name == "" || roleIdentifier == "" {
		writeError(w, http.StatusBadRequest, "name and the "+string(role)+"_id are required")
		return
	}

	identity, err := s.backend.Identities.Resolve(r.Context(), name, roleIdentifier, role)
	if err != nil {
		s.logger.Error().Err(err).Str("role", string(role)).Msg("Failed to resolve identity")
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	token, err := s.tokens.GenerateToken(*identity)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to issue token")
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	user := UserInfo{
		ID:        identity.ID,
		Name:      identity.Name,
		UserType:  identity.Role,
		CreatedAt: identity.CreatedAt.UTC(),
	}
	if identity.Role == storage.RolePatient {
		user.PatientID = identity.RoleIdentifier
	} else {
		user.DoctorID = identity.RoleIdentifier
	}

	s.logger.Info().
		Str("identity_id", identity.ID).
		Str("role", string(identity.Role)).
		Msg("Identity logged in")

	writeJSON(w, http.StatusOK, LoginResponse{Success: true, User: user, Token: token})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	patientID, ok := s.patientFromPath(w, r)
	if !ok {
		return
	}

	devices, err := s.backend.Devices.List(r.Context(), patientID)
	if err != nil {
		s.logger.Error().Err(err).Str("patient_id", patientID).Msg("Failed to list devices")
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	patientID, ok := s.patientFromPath(w, r)
	if !ok {
		return
	}

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	now := s.backend.Clock.Now().UTC()
	device := storage.Device{
		ID:            storage.NewID(),
		PatientID:     patientID,
		DeviceID:      strings.TrimSpace(req.ID),
		DeviceName:    strings.TrimSpace(req.Name),
		IsConnected:   true,
		LastConnected: &now,
		CreatedAt:     now,
	}
	if device.DeviceID == "" {
		device.DeviceID = storage.NewID()
	}
	if device.DeviceName == "" {
		device.DeviceName = defaultDeviceName
	}

	if err := s.backend.Devices.Register(r.Context(), device); err != nil {
		s.logger.Error().Err(err).Str("patient_id", patientID).Msg("Failed to register device")
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	s.logger.Info().
		Str("patient_id", patientID).
		Str("device_id", device.DeviceID).
		Msg("Registered device")

	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleBluetoothData(w http.ResponseWriter, r *http.Request) {
	var report compliance.UsageReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if !canAccessPatient(r, strings.TrimSpace(report.PatientID)) {
		writeError(w, http.StatusForbidden, "Not allowed to report for this patient")
		return
	}

	session, err := s.backend.Recorder.RecordUsage(r.Context(), report)
	if err != nil {
		s.writeComplianceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RecordResponse{Success: true, Session: *session})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	patientID, ok := s.patientFromPath(w, r)
	if !ok {
		return
	}
	days, ok := queryDays(w, r, defaultUsageDays)
	if !ok {
		return
	}

	sessions, err := s.backend.Aggregator.RecentSessions(r.Context(), patientID, days)
	if err != nil {
		s.writeComplianceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCompliance(w http.ResponseWriter, r *http.Request) {
	patientID, ok := s.patientFromPath(w, r)
	if !ok {
		return
	}

	summary, err := s.backend.Aggregator.Compliance(r.Context(), patientID)
	if err != nil {
		s.writeComplianceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	patientID, ok := s.patientFromPath(w, r)
	if !ok {
		return
	}
	days, ok := queryDays(w, r, s.config.DefaultAnalyticsDays)
	if !ok {
		return
	}

	analytics, err := s.backend.Aggregator.Analytics(r.Context(), patientID, days)
	if err != nil {
		s.writeComplianceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, analytics)
}

func (s *Server) handleDoctorPatients(w http.ResponseWriter, r *http.Request) {
	doctorID := mux.Vars(r)["id"]
	callerID, _ := GetIdentityIDFromContext(r.Context())
	role, _ := GetRoleFromContext(r.Context())
	if role != storage.RoleDoctor || callerID != doctorID {
		writeError(w, http.StatusForbidden, "Not allowed to view this roster")
		return
	}

	results, err := s.backend.Aggregator.PatientRoster(r.Context())
	if err != nil {
		s.writeComplianceError(w, err)
		return
	}

	summaries := make([]compliance.Summary, 0, len(results))
	for _, result := range results {
		summaries = append(summaries, result.Summary)
	}
	writeJSON(w, http.StatusOK, summaries)
}

// patientFromPath returns the {id} path variable once the caller is
// allowed to access that patient.
func (s *Server) patientFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	patientID := mux.Vars(r)["id"]
	if !canAccessPatient(r, patientID) {
		writeError(w, http.StatusForbidden, "Not allowed to access this patient")
		return "", false
	}
	return patientID, true
}

// canAccessPatient allows doctors everywhere and patients only to themselves.
func canAccessPatient(r *http.Request, patientID string) bool {
	role, _ := GetRoleFromContext(r.Context())
	switch role {
	case storage.RoleDoctor:
		return true
	case storage.RolePatient:
		callerID, _ := GetIdentityIDFromContext(r.Context())
		return callerID == patientID
	default:
		return false
	}
}

func queryDays(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return fallback, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "days must be an integer")
		return 0, false
	}
	return days, true
}

// writeComplianceError maps engine failures to HTTP statuses.
func (s *Server) writeComplianceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, compliance.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, compliance.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, compliance.ErrStorageUnavailable):
		s.logger.Error().Err(err).Msg("Storage unavailable")
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
	default:
		s.logger.Error().Err(err).Msg("Unexpected error")
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}
