package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chanuka/conflict-engine/internal/detect"
	"github.com/chanuka/conflict-engine/internal/domain"
	"github.com/chanuka/conflict-engine/internal/events"
	"github.com/chanuka/conflict-engine/internal/network"
	"github.com/chanuka/conflict-engine/internal/repository"
	"github.com/chanuka/conflict-engine/internal/score"
	"github.com/chanuka/conflict-engine/internal/store"
)

func newTestHandlers(t *testing.T) (*APIHandlers, *store.Memory, *repository.Memory) {
	t.Helper()

	detections := store.NewMemory()
	edges := repository.NewMemory()
	publisher := events.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	detector := detect.New(score.Default(), detections, edges, publisher, nil, logger)
	detector.WithClock(func() time.Time {
		return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	})
	seq := 0
	detector.WithIDFunc(func() string {
		seq++
		return fmt.Sprintf("gen-%04d", seq)
	})

	handlers := NewAPIHandlers(logger, detector, detections, edges, network.New(edges))
	return handlers, detections, edges
}

func directConflictSnapshot() detectRequest {
	return detectRequest{
		Bill: domain.Bill{
			ID:               "bill-100",
			Title:            "Telecommunications Levy Act",
			Version:          "v1",
			AffectedEntities: []domain.EntityRef{{ID: "ent-telco"}},
			SponsorIDs:       []string{"mp-1"},
			IntroducedDate:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		Sponsors: []domain.Sponsor{
			{ID: "mp-1", Name: "A. Wanjiku", Role: domain.RolePrimarySponsor},
		},
		Interests: []domain.FinancialInterest{
			{
				ID:               "int-1",
				SponsorID:        "mp-1",
				Entity:           domain.EntityRef{ID: "ent-telco"},
				Kind:             domain.InterestOwnership,
				Tier:             5,
				DisclosureYear:   2024,
				SourceConfidence: 1.0,
			},
		},
		Entities: []domain.Entity{
			{ID: "ent-telco", CanonicalName: "Sahara Telecom PLC", Type: domain.EntityCompany},
		},
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleDetectBill(t *testing.T) {
	handlers, _, _ := newTestHandlers(t)

	rec := postJSON(t, handlers.handleDetectBill, "/detect/bill", directConflictSnapshot())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var summary detect.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if summary.BillID != "bill-100" {
		t.Fatalf("expected billId bill-100, got %q", summary.BillID)
	}
	if summary.Written != 1 {
		t.Fatalf("expected 1 written detection, got %d", summary.Written)
	}
}

func TestHandleDetectBillRequiresBillID(t *testing.T) {
	handlers, _, _ := newTestHandlers(t)

	payload := directConflictSnapshot()
	payload.Bill.ID = ""

	rec := postJSON(t, handlers.handleDetectBill, "/detect/bill", payload)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestHandleDetectBillRejectsGet(t *testing.T) {
	handlers, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/detect/bill", nil)
	rec := httptest.NewRecorder()
	handlers.handleDetectBill(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
}

func TestHandleDetectionsListsActive(t *testing.T) {
	handlers, _, _ := newTestHandlers(t)

	if rec := postJSON(t, handlers.handleDetectBill, "/detect/bill", directConflictSnapshot()); rec.Code != http.StatusOK {
		t.Fatalf("detect failed with status %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/detections?billId=bill-100", nil)
	rec := httptest.NewRecorder()
	handlers.handleDetections(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var payload detectionListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Items) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(payload.Items))
	}
	item := payload.Items[0]
	if item.Status != string(domain.StatusActive) {
		t.Fatalf("expected ACTIVE detection, got %q", item.Status)
	}
	if item.Specificity != string(domain.SpecificityDirect) {
		t.Fatalf("expected DIRECT specificity, got %q", item.Specificity)
	}
	if item.Justification == "" {
		t.Fatal("expected a justification on the detection")
	}
}

func TestHandleDetectionsRequiresBillID(t *testing.T) {
	handlers, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/detections", nil)
	rec := httptest.NewRecorder()
	handlers.handleDetections(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestDismissDetection(t *testing.T) {
	handlers, detections, _ := newTestHandlers(t)

	if rec := postJSON(t, handlers.handleDetectBill, "/detect/bill", directConflictSnapshot()); rec.Code != http.StatusOK {
		t.Fatalf("detect failed with status %d", rec.Code)
	}

	stored, err := detections.ByBill(context.Background(), "bill-100")
	if err != nil || len(stored) == 0 {
		t.Fatalf("expected stored detections, got %d (err %v)", len(stored), err)
	}
	id := stored[0].ID

	rec := postJSON(t, handlers.handleDetectionByID, "/detections/"+id+"/dismiss", dismissRequest{
		Reviewer: "ethics-desk",
		Reason:   "divested before introduction",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// A second dismissal hits a record that is no longer active.
	rec = postJSON(t, handlers.handleDetectionByID, "/detections/"+id+"/dismiss", dismissRequest{Reviewer: "ethics-desk"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
}

func TestDismissUnknownDetection(t *testing.T) {
	handlers, _, _ := newTestHandlers(t)

	rec := postJSON(t, handlers.handleDetectionByID, "/detections/no-such-id/dismiss", dismissRequest{Reviewer: "ethics-desk"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestHandleEdgesAndNetworkPaths(t *testing.T) {
	handlers, _, edges := newTestHandlers(t)

	rec := postJSON(t, handlers.handleEdges, "/edges", edgeRequest{
		ID:       "edge-1",
		SourceID: "ent-a",
		TargetID: "ent-b",
		Kind:     string(domain.EdgeOwns),
		Strength: 0.8,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	neighbors, err := edges.Neighbors(context.Background(), "ent-a")
	if err != nil || len(neighbors) != 1 {
		t.Fatalf("expected 1 stored edge, got %d (err %v)", len(neighbors), err)
	}

	req := httptest.NewRequest(http.MethodGet, "/network/paths?entityId=ent-a", nil)
	pathsRec := httptest.NewRecorder()
	handlers.handleNetworkPaths(pathsRec, req)

	if pathsRec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", pathsRec.Code)
	}
	var payload pathListResponse
	if err := json.Unmarshal(pathsRec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Paths) != 1 {
		t.Fatalf("expected 1 path, got %d", len(payload.Paths))
	}
	if payload.Paths[0].Edges[0].TargetID != "ent-b" {
		t.Fatalf("expected path to ent-b, got %q", payload.Paths[0].Edges[0].TargetID)
	}
}

func TestHandleEdgesRejectsSelfEdge(t *testing.T) {
	handlers, _, _ := newTestHandlers(t)

	rec := postJSON(t, handlers.handleEdges, "/edges", edgeRequest{
		SourceID: "ent-a",
		TargetID: "ent-a",
		Kind:     string(domain.EdgeOwns),
		Strength: 0.5,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestRetractEdge(t *testing.T) {
	handlers, _, edges := newTestHandlers(t)

	if rec := postJSON(t, handlers.handleEdges, "/edges", edgeRequest{
		ID:       "edge-9",
		SourceID: "ent-a",
		TargetID: "ent-b",
		Kind:     string(domain.EdgeDonatesTo),
		Strength: 0.4,
	}); rec.Code != http.StatusCreated {
		t.Fatalf("add edge failed with status %d", rec.Code)
	}

	rec := postJSON(t, handlers.handleEdgeByID, "/edges/edge-9/retract", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	neighbors, err := edges.Neighbors(context.Background(), "ent-a")
	if err != nil {
		t.Fatalf("neighbors failed: %v", err)
	}
	if len(neighbors) != 0 {
		t.Fatalf("expected retracted edge to be excluded, got %d edges", len(neighbors))
	}
}
