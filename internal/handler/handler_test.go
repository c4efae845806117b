package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aditya/resq/internal/analytics"
	"github.com/aditya/resq/internal/clock"
	"github.com/aditya/resq/internal/features"
	"github.com/aditya/resq/internal/logger"
	"github.com/aditya/resq/internal/mapview"
	"github.com/aditya/resq/internal/models"
	"github.com/aditya/resq/internal/notify"
	"github.com/aditya/resq/internal/repository"
	"github.com/aditya/resq/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router      chi.Router
	flags       *features.Flags
	store       service.RequestStore
	sequencer   service.StatusSequencer
	mechanics   repository.MechanicRepository
	presence    *notify.PresenceRegistry
	broadcaster *notify.Broadcaster
	watched     []string
}

func (s *testServer) Watch(_ context.Context, id string) error {
	s.watched = append(s.watched, id)
	return nil
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.Discard()
	hub := service.NewHub(log)
	s := &testServer{
		flags:       features.Defaults(),
		mechanics:   repository.NewMemoryMechanicRepository(repository.DemoMechanics(time.Now())...),
		presence:    notify.NewPresenceRegistry(),
		broadcaster: notify.NewBroadcaster(log),
	}
	s.store = service.NewRequestStore(repository.NewMemoryRequestRepository(), s.mechanics, hub, clock.Real(), log)

	events := analytics.NewNoopEmitter()
	s.sequencer = service.NewStatusSequencer(s.store, hub, events, log)
	matcher := service.NewMechanicMatcher(s.store, events)
	submission := service.NewRequestSubmissionFlow(service.SubmissionDeps{
		Validator: service.NewInputValidator(service.DefaultSubmissionRules()),
		Store:     s.store,
		Sequencer: s.sequencer,
		Matcher:   matcher,
		Watcher:   s,
		Analytics: events,
		Logger:    log,
	})
	presenter := mapview.NewPresenter(s.flags, mapview.ProviderSettings{MapboxAccessToken: "pk.test"}, matcher,
		models.Coordinates{Lat: 40.7128, Lng: -74.006}, events, log)

	r := chi.NewRouter()
	NewRequestHandler(RequestHandlerDeps{
		Submission: submission,
		Store:      s.store,
		Sequencer:  s.sequencer,
		Presence:   s.presence,
		Flags:      s.flags,
		Logger:     log,
	}).RegisterRoutes(r)
	NewMechanicHandler(matcher, s.store, s.mechanics, nil, s.flags).RegisterRoutes(r)
	NewFeatureHandler(s.flags).RegisterRoutes(r)
	NewMapHandler(presenter, matcher).RegisterRoutes(r)
	sse := NewSSEHandler(s.sequencer, s.broadcaster, nil, s.flags, log)
	sse.heartbeat = time.Hour
	sse.RegisterRoutes(r)
	s.router = r
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type submitted struct {
	models.RequestResponse
	Located    bool       `json:"located"`
	MatchError *errorBody `json:"match_error"`
}

func (s *testServer) submit(t *testing.T, body map[string]any, headers ...string) submitted {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/requests", body, headers...)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[submitted](t, rec)
}

func TestSubmitRequest(t *testing.T) {
	s := newTestServer(t)

	resp := s.submit(t, map[string]any{
		"location":    "Main Street Garage",
		"phone":       "5551234567",
		"description": "battery died",
		"coordinates": map[string]float64{"lat": 40.71, "lng": -74.0},
	})

	assert.Equal(t, models.RequestStatusPending, resp.Status)
	assert.Equal(t, "555-123-4567", resp.Phone)
	assert.True(t, resp.Located)
	require.NotNil(t, resp.ServiceType)
	assert.Equal(t, models.ServiceBattery, *resp.ServiceType)
	assert.Equal(t, []string{resp.ID}, s.watched)
}

func TestSubmitRequest_Errors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/requests", map[string]any{"location": "Main", "phone": "555-123-4567"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "validation_error", body.Error)
	assert.Equal(t, "Location must be at least 5 characters", body.Message)

	req := httptest.NewRequest(http.MethodPost, "/requests", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/requests", map[string]any{
		"location": "Main Street Garage", "phone": "555-123-4567", "mechanic_id": "mech-404",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Empty(t, s.watched)
}

func TestSubmitRequest_FeatureDisabled(t *testing.T) {
	s := newTestServer(t)
	s.flags.Set(features.EmergencyForm, false)

	rec := s.do(t, http.MethodPost, "/requests", map[string]any{"location": "Main Street Garage", "phone": "555-123-4567"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "feature_disabled", decode[errorBody](t, rec).Error)
}

func TestRequestLifecycleRoutes(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t, map[string]any{"location": "Main Street Garage", "phone": "555-123-4567"}).ID

	rec := s.do(t, http.MethodPost, "/requests/"+id+"/transition", map[string]any{"status": "arrived"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[errorBody](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/requests/"+id+"/transition", map[string]any{"status": "matched", "mechanic_id": "mech-001"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[models.RequestResponse](t, rec)
	assert.Equal(t, models.RequestStatusMatched, resp.Status)
	require.NotNil(t, resp.Mechanic)
	assert.Equal(t, "John Smith", resp.Mechanic.Name)

	rec = s.do(t, http.MethodPost, "/requests/"+id+"/review", map[string]any{"rating": 5})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "review_not_allowed", decode[errorBody](t, rec).Error)

	rec = s.do(t, http.MethodPost, "/requests/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RequestStatusCancelled, decode[models.RequestResponse](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/requests/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_terminal", decode[errorBody](t, rec).Error)

	rec = s.do(t, http.MethodGet, "/requests/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[models.RequestResponse](t, rec)
	assert.Equal(t, models.RequestStatusCancelled, resp.Status)
	assert.Nil(t, resp.MechanicID)

	rec = s.do(t, http.MethodGet, "/requests/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReviewRequest_Validation(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t, map[string]any{"location": "Main Street Garage", "phone": "555-123-4567"}).ID

	rec := s.do(t, http.MethodPost, "/requests/"+id+"/review", map[string]any{"rating": 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePresence(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t, map[string]any{"location": "Main Street Garage", "phone": "555-123-4567"}).ID

	rec := s.do(t, http.MethodPost, "/requests/"+id+"/presence", notify.Presence{NotificationsGranted: true, DeviceToken: "tok"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "tok", s.presence.Get(id).DeviceToken)
	assert.False(t, s.presence.Get(id).Focused)

	rec = s.do(t, http.MethodPost, "/requests/missing/presence", notify.Presence{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMechanics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/mechanics?status=available&lat=40.7128&lng=-74.006", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]models.MechanicResponse](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "mech-001", list[0].ID)
	assert.Equal(t, "mech-003", list[1].ID)
	require.NotNil(t, list[0].DistanceMi)

	rec = s.do(t, http.MethodGet, "/mechanics?specialty=Electrical", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[[]models.MechanicResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "mech-002", list[0].ID)

	for _, q := range []string{"status=sleeping", "min_rating=7", "max_distance=-1", "lat=100&lng=0"} {
		rec = s.do(t, http.MethodGet, "/mechanics?"+q, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, q)
	}

	s.flags.Set(features.MechanicList, false)
	rec = s.do(t, http.MethodGet, "/mechanics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMechanicRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/mechanics/mech-002", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Sarah Johnson", decode[models.MechanicResponse](t, rec).Name)

	rec = s.do(t, http.MethodPut, "/mechanics/mech-001/location", map[string]float64{"lat": 40.75, "lng": -73.99})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m, err := s.mechanics.GetByID(context.Background(), "mech-001")
	require.NoError(t, err)
	assert.Equal(t, 40.75, m.CurrentLat)

	rec = s.do(t, http.MethodPut, "/mechanics/mech-404/location", map[string]float64{"lat": 40.75, "lng": -73.99})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/mechanics/mech-001/location", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	m, err = s.mechanics.GetByID(context.Background(), "mech-001")
	require.NoError(t, err)
	assert.Equal(t, models.MechanicStatusOffline, m.Status)

	rec = s.do(t, http.MethodGet, "/mechanics/nearby?lat=40.7&lng=-74", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "location_cache_unavailable", decode[errorBody](t, rec).Error)
}

func TestMechanicLocation_ZeroCoordinates(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/mechanics/mech-001/location", map[string]float64{"lat": 0, "lng": 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m, err := s.mechanics.GetByID(context.Background(), "mech-001")
	require.NoError(t, err)
	assert.Zero(t, m.CurrentLat)
	assert.Zero(t, m.CurrentLng)

	rec = s.do(t, http.MethodPut, "/mechanics/mech-001/location", map[string]float64{"lat": 40.75})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/mechanics/mech-001/location", map[string]float64{"lat": 91, "lng": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeatures(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/features", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]json.RawMessage](t, rec)
	assert.JSONEq(t, `"mapbox"`, string(body["map_provider"]))
	assert.Contains(t, string(body["features"]), features.RealTimeTracking)
}

func TestMap(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/map?lat=40.72&lng=-74.0&status=available", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[struct {
		Provider  string                `json:"provider"`
		Mechanics []mapview.MechanicPin `json:"mechanics"`
	}](t, rec)
	assert.Equal(t, "mapbox", view.Provider)
	assert.Len(t, view.Mechanics, 2)

	rec = s.do(t, http.MethodGet, "/map?provider=google", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	failure := decode[struct {
		errorBody
		View mapview.View `json:"view"`
	}](t, rec)
	assert.Equal(t, "provider_unavailable", failure.Error)
	assert.True(t, failure.Retryable)
	require.NotNil(t, failure.View.Error)
	assert.True(t, failure.View.UsedFallback)
}

func TestSelectThenSubmit(t *testing.T) {
	s := newTestServer(t)
	session := uuid.NewString()

	rec := s.do(t, http.MethodPost, "/map/select", map[string]string{"marker_id": mapview.MechanicMarkerID("mech-003")}, SessionHeader, session)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, session, rec.Header().Get(SessionHeader))

	resp := s.submit(t, map[string]any{"location": "Main Street Garage", "phone": "555-123-4567"}, SessionHeader, session)
	assert.Equal(t, models.RequestStatusMatched, resp.Status)
	require.NotNil(t, resp.MechanicID)
	assert.Equal(t, "mech-003", *resp.MechanicID)
}

func TestSelectMarker_NewSession(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/map/select", map[string]string{"marker_id": mapview.MechanicMarkerID("mech-001")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(SessionHeader))

	rec = s.do(t, http.MethodPost, "/map/select", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamRequest(t *testing.T) {
	s := newTestServer(t)
	id := s.submit(t, map[string]any{"location": "Main Street Garage", "phone": "555-123-4567"}).ID

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/requests/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		var event string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				events <- event + " " + strings.TrimPrefix(line, "data: ")
			}
		}
	}()

	next := func() string {
		select {
		case e := <-events:
			return e
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
			return ""
		}
	}

	assert.Contains(t, next(), `"status":"pending"`)

	_, err = s.sequencer.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, next(), `"status":"cancelled"`)

	s.broadcaster.Send(id, notify.Notification{RequestID: id, Message: "hello"})
	e := next()
	assert.True(t, strings.HasPrefix(e, "notification "), e)
	assert.Contains(t, e, "hello")
}

func TestStreamRequest_Unknown(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/requests/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.flags.Set(features.RealTimeTracking, false)
	rec = s.do(t, http.MethodGet, "/requests/missing/events", nil)
	assert.Equal(t, "feature_disabled", decode[errorBody](t, rec).Error)
}
