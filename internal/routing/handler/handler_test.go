package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"leadrouting_backend/internal/events"
	"leadrouting_backend/internal/routing/domain"
	"leadrouting_backend/internal/routing/memstore"
	"leadrouting_backend/internal/routing/service"
	"leadrouting_backend/platform/logger"
	"leadrouting_backend/platform/phone"
	"leadrouting_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type testServer struct {
	engine *gin.Engine
	store  *memstore.Store
	stage  domain.StageRef
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memstore.New()
	st := domain.Stage{ID: uuid.New(), PipelineID: uuid.New(), Name: "Inbox"}
	store.PutStage(st)

	clock := func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	svc := service.New(store, store, phone.NewNormalizer(phone.Rules{}), events.NewInMemoryBus(logger.Nop()), logger.Nop(), service.Options{Clock: clock})

	h := New(svc, validator.New())
	engine := gin.New()
	v1 := engine.Group("/api/v1")
	h.RegisterRoutes(v1)
	h.RegisterWebhookRoutes(v1)

	return &testServer{engine: engine, store: store, stage: st.Ref()}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) putAgent(min, max int) domain.Agent {
	a := domain.Agent{
		ID:              uuid.New(),
		Active:          true,
		RoutingEnabled:  true,
		MinUnits:        min,
		MaxUnits:        max,
		LegalEntityRule: domain.LegalEntityEither,
	}
	s.store.PutAgent(a)
	return a
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRouteNewLeadReturnsAgent(t *testing.T) {
	s := newTestServer(t)
	a := s.putAgent(1, 10)

	rec := s.do(t, http.MethodPost, "/api/v1/routing/route", map[string]any{"unitCount": 4}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[struct {
		AgentID *uuid.UUID `json:"agentId"`
	}](t, rec)
	if got.AgentID == nil || *got.AgentID != a.ID {
		t.Fatalf("expected agent %s, got %v", a.ID, got.AgentID)
	}
}

func TestRouteNewLeadNoEligibleAgentIsNull(t *testing.T) {
	s := newTestServer(t)
	s.putAgent(1, 3)

	rec := s.do(t, http.MethodPost, "/api/v1/routing/route", map[string]any{"unitCount": 50}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"agentId":null`)) {
		t.Fatalf("expected null agent, got %s", rec.Body.String())
	}
}

func TestRouteNewLeadRejectsMissingUnits(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/routing/route", map[string]any{"hasLegalEntity": true}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	got := decode[struct {
		Details map[string]string `json:"details"`
	}](t, rec)
	if got.Details["unitCount"] != "required" {
		t.Fatalf("expected unitCount detail, got %+v", got.Details)
	}
}

func TestWebhookCreatesThenReplaysDelivery(t *testing.T) {
	s := newTestServer(t)
	s.putAgent(1, 10)

	body := map[string]any{
		"source":      "site-form",
		"pipelineId":  s.stage.PipelineID,
		"stageId":     s.stage.StageID,
		"contactName": "  <b>Pieter</b>  Jansen ",
		"phone":       "+31 6 1234 5678",
		"unitCount":   2,
	}
	headers := map[string]string{HeaderDeliveryID: "evt-1"}

	first := s.do(t, http.MethodPost, "/api/v1/webhook/leads", body, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}
	replay := s.do(t, http.MethodPost, "/api/v1/webhook/leads", body, headers)

	a := decode[domain.MergeResult](t, first)
	b := decode[domain.MergeResult](t, replay)
	if a.LeadID != b.LeadID {
		t.Fatalf("replay returned a different lead: %s vs %s", a.LeadID, b.LeadID)
	}

	leads := s.store.Leads()
	if len(leads) != 1 {
		t.Fatalf("expected one lead, got %d", len(leads))
	}
	if leads[0].ContactName != "Pieter Jansen" {
		t.Fatalf("expected sanitized contact name, got %q", leads[0].ContactName)
	}
}

func TestWebhookMergesSameContact(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{
		"source":     "site-form",
		"pipelineId": s.stage.PipelineID,
		"stageId":    s.stage.StageID,
		"email":      "owner@example.com",
		"unitCount":  3,
	}

	if rec := s.do(t, http.MethodPost, "/api/v1/webhook/leads", body, nil); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body["email"] = "Owner@Example.com"
	rec := s.do(t, http.MethodPost, "/api/v1/webhook/leads", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for merge, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[domain.MergeResult](t, rec); got.Created {
		t.Fatalf("expected merge, got create")
	}
}

func TestWebhookRejectsInvalidEmail(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{
		"source":     "site-form",
		"pipelineId": s.stage.PipelineID,
		"stageId":    s.stage.StageID,
		"email":      "not-an-email",
	}
	if rec := s.do(t, http.MethodPost, "/api/v1/webhook/leads", body, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMoveUnknownLeadIsNotFound(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{"pipelineId": s.stage.PipelineID, "stageId": s.stage.StageID}

	rec := s.do(t, http.MethodPost, "/api/v1/board/leads/"+uuid.NewString()+"/move", body, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMoveRejectsMalformedID(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{"pipelineId": s.stage.PipelineID, "stageId": s.stage.StageID}

	if rec := s.do(t, http.MethodPost, "/api/v1/board/leads/nope/move", body, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRankAndRebalanceEndpoints(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		body := map[string]any{
			"source":     "import",
			"pipelineId": s.stage.PipelineID,
			"stageId":    s.stage.StageID,
			"phone":      "+3161234567" + string(rune('0'+i)),
			"unitCount":  1,
		}
		if rec := s.do(t, http.MethodPost, "/api/v1/webhook/leads", body, nil); rec.Code != http.StatusCreated {
			t.Fatalf("seed lead %d: %d %s", i, rec.Code, rec.Body.String())
		}
	}

	rec := s.do(t, http.MethodPost, "/api/v1/board/rank", map[string]any{"pipelineId": s.stage.PipelineID, "stageId": s.stage.StageID}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[map[string]string](t, rec); got["rank"] == "" {
		t.Fatalf("expected a rank, got %v", got)
	}

	path := "/api/v1/board/stages/" + s.stage.PipelineID.String() + "/" + s.stage.StageID.String() + "/rebalance"
	rec = s.do(t, http.MethodPost, path, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[struct {
		Cards int `json:"cards"`
	}](t, rec)
	if got.Cards != 3 {
		t.Fatalf("expected 3 cards, got %d", got.Cards)
	}
}

func TestStageErrorMapsToConflictWithStep(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	handleError(c, &domain.StageError{Step: domain.StepRanking, Attempts: 5, Err: domain.ErrRankConflict})

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	got := decode[struct {
		Details struct {
			Stage    string `json:"stage"`
			Attempts int    `json:"attempts"`
		} `json:"details"`
	}](t, rec)
	if got.Details.Stage != "ranking" || got.Details.Attempts != 5 {
		t.Fatalf("unexpected details: %+v", got.Details)
	}
}
