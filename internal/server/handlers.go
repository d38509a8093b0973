package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chanuka/conflict-engine/internal/detect"
	"github.com/chanuka/conflict-engine/internal/domain"
	"github.com/chanuka/conflict-engine/internal/network"
	"github.com/chanuka/conflict-engine/internal/repository"
	"github.com/chanuka/conflict-engine/internal/store"
)

// APIHandlers exposes HTTP handlers for the detection engine API.
type APIHandlers struct {
	logger     *slog.Logger
	detector   *detect.Detector
	detections store.Store
	edges      repository.Store
	network    *network.Builder
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, detector *detect.Detector, detections store.Store, edges repository.Store, nw *network.Builder) *APIHandlers {
	return &APIHandlers{
		logger:     logger,
		detector:   detector,
		detections: detections,
		edges:      edges,
		network:    nw,
	}
}

func (h *APIHandlers) handleDetectBill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var payload detectRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Bill.ID == "" {
		writeError(w, http.StatusBadRequest, "bill.id is required")
		return
	}

	summary, err := h.detector.DetectBill(r.Context(), detect.Snapshot{
		Bill:      payload.Bill,
		Sponsors:  payload.Sponsors,
		Interests: payload.Interests,
		Entities:  payload.Entities,
	})
	if err != nil {
		h.logger.Error("detection job failed", "error", err, "billId", payload.Bill.ID)
		writeError(w, http.StatusInternalServerError, "detection job failed")
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

func (h *APIHandlers) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	billID := r.URL.Query().Get("billId")
	if billID == "" {
		writeError(w, http.StatusBadRequest, "billId is required")
		return
	}
	includeAll := r.URL.Query().Get("includeInactive") == "true"

	detections, err := h.detections.ByBill(r.Context(), billID)
	if err != nil {
		h.logger.Error("failed to list detections", "error", err, "billId", billID)
		writeError(w, http.StatusInternalServerError, "failed to list detections")
		return
	}

	items := make([]detectionResponse, 0, len(detections))
	for _, det := range detections {
		if !includeAll && det.Status != domain.StatusActive {
			continue
		}
		items = append(items, toDetectionResponse(det))
	}

	respondJSON(w, http.StatusOK, detectionListResponse{BillID: billID, Items: items})
}

// handleDetectionByID routes /detections/{id}/dismiss.
func (h *APIHandlers) handleDetectionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/detections/"), "/")
	parts := strings.Split(rest, "/")

	if len(parts) == 2 && parts[1] == "dismiss" {
		h.dismissDetection(w, r, parts[0])
		return
	}
	if len(parts) == 1 && parts[0] != "" && r.Method == http.MethodGet {
		h.getDetection(w, r, parts[0])
		return
	}
	writeError(w, http.StatusNotFound, "unknown detection route")
}

func (h *APIHandlers) getDetection(w http.ResponseWriter, r *http.Request, id string) {
	detection, err := h.detections.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "detection not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to fetch detection", "error", err, "detectionId", id)
		writeError(w, http.StatusInternalServerError, "failed to fetch detection")
		return
	}
	respondJSON(w, http.StatusOK, toDetectionResponse(detection))
}

func (h *APIHandlers) dismissDetection(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var payload dismissRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Reviewer == "" {
		writeError(w, http.StatusBadRequest, "reviewer is required")
		return
	}

	err := h.detector.Dismiss(r.Context(), id, payload.Reviewer, payload.Reason)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "detection not found")
	case errors.Is(err, store.ErrNotActive):
		writeError(w, http.StatusConflict, "detection is not active")
	case err != nil:
		h.logger.Error("failed to dismiss detection", "error", err, "detectionId", id)
		writeError(w, http.StatusInternalServerError, "failed to dismiss detection")
	default:
		respondJSON(w, http.StatusOK, statusResponse{Status: "dismissed", ID: id})
	}
}

func (h *APIHandlers) handleEdges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var payload edgeRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	edge := domain.InfluenceEdge{
		ID:         payload.ID,
		SourceID:   domain.EntityID(payload.SourceID),
		TargetID:   domain.EntityID(payload.TargetID),
		Kind:       domain.EdgeKind(payload.Kind),
		Strength:   payload.Strength,
		Provenance: payload.Provenance,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if edge.ID == "" {
		edge.ID = uuid.NewString()
	}

	err := h.edges.AddEdge(r.Context(), edge)
	switch {
	case errors.Is(err, repository.ErrSelfEdge) || errors.Is(err, repository.ErrInvalidStrength):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.Error("failed to add influence edge", "error", err, "edgeId", edge.ID)
		writeError(w, http.StatusInternalServerError, "failed to add influence edge")
	default:
		respondJSON(w, http.StatusCreated, statusResponse{Status: "ok", ID: edge.ID})
	}
}

// handleEdgeByID routes /edges/{id}/retract.
func (h *APIHandlers) handleEdgeByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/edges/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "retract" {
		writeError(w, http.StatusNotFound, "unknown edge route")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	if err := h.edges.RetractEdge(r.Context(), parts[0]); err != nil {
		h.logger.Error("failed to retract edge", "error", err, "edgeId", parts[0])
		writeError(w, http.StatusInternalServerError, "failed to retract edge")
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: "retracted", ID: parts[0]})
}

func (h *APIHandlers) handleNetworkPaths(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	entityID := r.URL.Query().Get("entityId")
	if entityID == "" {
		writeError(w, http.StatusBadRequest, "entityId is required")
		return
	}
	maxHops := parseInt(r.URL.Query().Get("maxHops"), 0)

	paths, err := h.network.EdgesFrom(r.Context(), domain.EntityID(entityID), maxHops)
	if err != nil {
		h.logger.Error("network traversal failed", "error", err, "entityId", entityID)
		writeError(w, http.StatusInternalServerError, "network traversal failed")
		return
	}

	items := make([]pathResponse, 0, len(paths))
	for _, path := range paths {
		item := pathResponse{Strength: path.Strength}
		for _, edge := range path.Edges {
			item.Edges = append(item.Edges, edgeResponse{
				ID:       edge.ID,
				SourceID: string(edge.SourceID),
				TargetID: string(edge.TargetID),
				Kind:     string(edge.Kind),
				Strength: edge.Strength,
			})
		}
		items = append(items, item)
	}

	respondJSON(w, http.StatusOK, pathListResponse{EntityID: entityID, Paths: items})
}

func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// --- Request & Response DTOs ---

type detectRequest struct {
	Bill      domain.Bill                `json:"bill"`
	Sponsors  []domain.Sponsor           `json:"sponsors"`
	Interests []domain.FinancialInterest `json:"interests"`
	Entities  []domain.Entity            `json:"entities"`
}

type dismissRequest struct {
	Reviewer string `json:"reviewer"`
	Reason   string `json:"reason"`
}

type edgeRequest struct {
	ID         string  `json:"id"`
	SourceID   string  `json:"sourceId"`
	TargetID   string  `json:"targetId"`
	Kind       string  `json:"kind"`
	Strength   float64 `json:"strength"`
	Provenance string  `json:"provenance"`
}

type detectionListResponse struct {
	BillID string              `json:"billId"`
	Items  []detectionResponse `json:"items"`
}

type detectionResponse struct {
	ID              string           `json:"id"`
	BillID          string           `json:"billId"`
	SponsorID       string           `json:"sponsorId"`
	EntityID        string           `json:"entityId"`
	Severity        float64          `json:"severity"`
	Confidence      float64          `json:"confidence"`
	Tier            string           `json:"tier"`
	Status          string           `json:"status"`
	Specificity     string           `json:"specificity"`
	Factors         []factorResponse `json:"factors"`
	Justification   string           `json:"justification"`
	SupersedesID    string           `json:"supersedesId,omitempty"`
	DismissedBy     string           `json:"dismissedBy,omitempty"`
	DismissalReason string           `json:"dismissalReason,omitempty"`
	DetectedAt      time.Time        `json:"detectedAt"`
}

type factorResponse struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Value  float64 `json:"value"`
}

type pathListResponse struct {
	EntityID string         `json:"entityId"`
	Paths    []pathResponse `json:"paths"`
}

type pathResponse struct {
	Strength float64        `json:"strength"`
	Edges    []edgeResponse `json:"edges"`
}

type edgeResponse struct {
	ID       string  `json:"id"`
	SourceID string  `json:"sourceId"`
	TargetID string  `json:"targetId"`
	Kind     string  `json:"kind"`
	Strength float64 `json:"strength"`
}

type statusResponse struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toDetectionResponse(det domain.ConflictDetection) detectionResponse {
	resp := detectionResponse{
		ID:              det.ID,
		BillID:          det.BillID,
		SponsorID:       det.SponsorID,
		EntityID:        string(det.EntityID),
		Severity:        det.Severity,
		Confidence:      det.Confidence,
		Tier:            string(det.Tier),
		Status:          string(det.Status),
		Specificity:     string(det.Specificity),
		Justification:   det.Justification,
		SupersedesID:    det.SupersedesID,
		DismissedBy:     det.DismissedBy,
		DismissalReason: det.DismissalReason,
		DetectedAt:      det.DetectedAt,
	}
	for _, factor := range det.Factors {
		resp.Factors = append(resp.Factors, factorResponse{
			Name:   factor.Name,
			Weight: factor.Weight,
			Value:  factor.Value,
		})
	}
	return resp
}
