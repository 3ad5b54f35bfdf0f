package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/RefatHex/ResQ/internal/alerting"
	"github.com/RefatHex/ResQ/internal/dispatch"
	"github.com/RefatHex/ResQ/internal/geo"
	"github.com/RefatHex/ResQ/internal/models"
	"github.com/RefatHex/ResQ/internal/notifier"
	"github.com/RefatHex/ResQ/internal/proximity"
	"github.com/RefatHex/ResQ/internal/queue"
	"github.com/RefatHex/ResQ/internal/repository"
	"github.com/RefatHex/ResQ/internal/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var center = models.Coordinate{Latitude: 40.7128, Longitude: -74.0060}

type nopQueue struct{}

func (nopQueue) Enqueue(context.Context, queue.Job) error { return nil }
func (nopQueue) Start(context.Context, queue.Handler)     {}
func (nopQueue) Stop()                                    {}

type testEnv struct {
	router      *gin.Engine
	store       *repository.SQLiteDB
	broadcaster *stream.Broadcaster
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := stream.NewBroadcaster()
	d := dispatch.New(store, proximity.NewIndex(store), notifier.NewLogNotifier(nil), b, dispatch.Config{})
	svc := alerting.NewService(store, d, nopQueue{}, alerting.Config{})

	router := gin.New()
	NewHandler(svc, store, b).RegisterRoutes(router)
	return &testEnv{router: router, store: store, broadcaster: b}
}

func (env *testEnv) do(method, path string, body any, subject string, role models.Role) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req.Header.Set(HeaderSubjectID, subject)
	}
	if role != "" {
		req.Header.Set(HeaderRole, string(role))
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) createReport(t *testing.T, subject string, body map[string]any) models.Report {
	t.Helper()
	w := env.do(http.MethodPost, "/api/reports", body, subject, models.RoleCitizen)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var r models.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
	return r
}

func TestHealth(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(http.MethodGet, "/health", nil, "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestIdentityRequired(t *testing.T) {
	env := setupTestRouter(t)

	w := env.do(http.MethodGet, "/api/reports", nil, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodGet, "/api/reports", nil, "u1", "JANITOR")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateReport(t *testing.T) {
	env := setupTestRouter(t)

	r := env.createReport(t, "u1", map[string]any{
		"latitude":      center.Latitude,
		"longitude":     center.Longitude,
		"reporter_type": "VICTIM",
		"report_type":   "FIRE",
		"description":   "kitchen fire",
		"is_emergency":  true,
	})
	assert.Equal(t, models.StatusPending, r.Status)
	assert.Equal(t, "u1", r.ReporterID)
	assert.Equal(t, models.ReporterVictim, r.ReporterType)
	assert.NotEmpty(t, r.ID)
}

func TestCreateReport_Validation(t *testing.T) {
	env := setupTestRouter(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing latitude", map[string]any{"longitude": 1.0}},
		{"latitude out of range", map[string]any{"latitude": 91.0, "longitude": 1.0}},
		{"longitude out of range", map[string]any{"latitude": 1.0, "longitude": -181.0}},
		{"unknown reporter type", map[string]any{"latitude": 1.0, "longitude": 1.0, "reporter_type": "WITNESS"}},
		{"radius too large", map[string]any{"latitude": 1.0, "longitude": 1.0, "radius_km": 1000.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/reports", tt.body, "u1", models.RoleCitizen)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestUpdateStatus(t *testing.T) {
	env := setupTestRouter(t)
	r := env.createReport(t, "u1", map[string]any{"latitude": center.Latitude, "longitude": center.Longitude})
	path := "/api/reports/" + r.ID + "/status"

	w := env.do(http.MethodPost, path, map[string]string{"status": "RESPONDING"}, "u1", models.RoleCitizen)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, path, map[string]string{"status": "ONGOING"}, "station", models.RoleFireStation)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, path, map[string]string{"status": "RESPONDING"}, "station", models.RolePolice)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got models.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.StatusResponding, got.Status)

	w = env.do(http.MethodPost, path, map[string]string{"status": "PENDING"}, "station", models.RolePolice)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/reports/missing/status", map[string]string{"status": "RESPONDING"}, "station", models.RoleAdmin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetAndListReports(t *testing.T) {
	env := setupTestRouter(t)
	mine := env.createReport(t, "u1", map[string]any{"latitude": 1.0, "longitude": 1.0})
	env.createReport(t, "u2", map[string]any{"latitude": 2.0, "longitude": 2.0, "is_emergency": true})

	w := env.do(http.MethodGet, "/api/reports/"+mine.ID, nil, "u1", models.RoleCitizen)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/reports/"+mine.ID, nil, "u2", models.RoleCitizen)
	assert.Equal(t, http.StatusForbidden, w.Code)

	var resp struct {
		Reports []models.Report `json:"reports"`
		Count   int             `json:"count"`
	}
	w = env.do(http.MethodGet, "/api/reports", nil, "u1", models.RoleCitizen)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	w = env.do(http.MethodGet, "/api/reports?is_emergency=true", nil, "admin", models.RoleAdmin)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	w = env.do(http.MethodGet, "/api/reports?status=ONGOING", nil, "admin", models.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/reports?format=geojson", nil, "admin", models.RoleAdmin)
	var fc FeatureCollection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Len(t, fc.Features, 2)
}

func TestNearbyReports(t *testing.T) {
	env := setupTestRouter(t)
	for _, km := range []float64{3, 1, 8} {
		at := geo.OffsetNorth(center, km)
		env.createReport(t, "u1", map[string]any{"latitude": at.Latitude, "longitude": at.Longitude, "is_emergency": true})
	}

	path := "/api/reports/nearby?lat=40.7128&lng=-74.0060&radius=5"

	w := env.do(http.MethodGet, path, nil, "u1", models.RoleCitizen)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodGet, path, nil, "station", models.RoleRedCrescent)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))

	var fc FeatureCollection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	require.Len(t, fc.Features, 2)
	d0 := fc.Features[0].Properties["distance_km"].(float64)
	d1 := fc.Features[1].Properties["distance_km"].(float64)
	assert.Less(t, d0, d1)

	w = env.do(http.MethodGet, "/api/reports/nearby?lat=95&lng=0", nil, "station", models.RoleRedCrescent)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/reports/nearby?lat=1&lng=1&radius=-2", nil, "station", models.RoleRedCrescent)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTags(t *testing.T) {
	env := setupTestRouter(t)

	tag := map[string]any{"name": "trapped", "emergency_type": "FIRE"}
	w := env.do(http.MethodPost, "/api/tags", tag, "u1", models.RoleCitizen)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, "/api/tags", tag, "admin", models.RoleAdmin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(http.MethodPost, "/api/tags", tag, "admin", models.RoleAdmin)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodPost, "/api/tags", map[string]any{"name": "x", "emergency_type": "FLOOD"}, "admin", models.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var list struct {
		Tags []models.Tag `json:"tags"`
	}
	w = env.do(http.MethodGet, "/api/tags", nil, "u1", models.RoleCitizen)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Tags, 1)
	assert.Equal(t, models.ReportTypeFire, list.Tags[0].EmergencyType)

	r := env.createReport(t, "u1", map[string]any{"latitude": 1.0, "longitude": 1.0, "tags": []string{"trapped"}})
	require.Len(t, r.Tags, 1)
	assert.Equal(t, "trapped", r.Tags[0].Name)

	w = env.do(http.MethodPost, "/api/reports", map[string]any{"latitude": 1.0, "longitude": 1.0, "tags": []string{"zombies"}}, "u1", models.RoleCitizen)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/reports?format=geojson", nil, "admin", models.RoleAdmin)
	var fc FeatureCollection
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	require.Len(t, fc.Features, 1)
	assert.Equal(t, []any{"trapped"}, fc.Features[0].Properties["tags"])
}

func TestTagStats(t *testing.T) {
	env := setupTestRouter(t)
	w := env.do(http.MethodPost, "/api/tags", map[string]any{"name": "gas-leak"}, "admin", models.RoleAdmin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	env.createReport(t, "u1", map[string]any{"latitude": 1.0, "longitude": 1.0, "tags": []string{"gas-leak"}})

	w = env.do(http.MethodGet, "/api/stats/tags", nil, "u1", models.RoleCitizen)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodGet, "/api/stats/tags", nil, "station", models.RoleFireStation)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Tags []models.TagStat `json:"tags"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Tags, 1)
	assert.Equal(t, "gas-leak", resp.Tags[0].Name)
	assert.Equal(t, 1, resp.Tags[0].Count)
}

func TestListReports_DescriptionSearch(t *testing.T) {
	env := setupTestRouter(t)
	env.createReport(t, "u1", map[string]any{"latitude": 1.0, "longitude": 1.0, "description": "Smoke from the basement"})
	env.createReport(t, "u1", map[string]any{"latitude": 1.0, "longitude": 1.0, "description": "flooded underpass"})

	var resp struct {
		Reports []models.Report `json:"reports"`
		Count   int             `json:"count"`
	}
	w := env.do(http.MethodGet, "/api/reports?q=smoke", nil, "u1", models.RoleCitizen)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "Smoke from the basement", resp.Reports[0].Description)

	w = env.do(http.MethodGet, "/api/reports?q=volcano", nil, "u1", models.RoleCitizen)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
}

func TestLocationsAndDevices(t *testing.T) {
	env := setupTestRouter(t)
	ctx := context.Background()

	w := env.do(http.MethodPost, "/api/locations", map[string]float64{"latitude": 10, "longitude": 20}, "u1", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	loc, err := env.store.GetCurrentLocation(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, 10.0, loc.Latitude)

	w = env.do(http.MethodPost, "/api/devices", map[string]string{"token": "tok-1"}, "u1", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	channels, _ := env.store.ListChannels(ctx, "u1")
	require.Len(t, channels, 1)
	assert.Equal(t, models.PlatformFCM, channels[0].Platform)

	w = env.do(http.MethodDelete, "/api/devices/tok-1", nil, "u1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(http.MethodDelete, "/api/devices/tok-1", nil, "u1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListNotifications(t *testing.T) {
	env := setupTestRouter(t)
	ctx := context.Background()

	_, _, err := env.store.CreateNotification(ctx, &models.Notification{
		RecipientID: "u1",
		EventKey:    "report:x:created",
		Category:    models.CategoryEmergencyAlert,
		Title:       "Emergency Nearby!",
		Message:     "Emergency reported 1.0km from your location: smoke",
	})
	require.NoError(t, err)

	w := env.do(http.MethodGet, "/api/notifications", nil, "u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Emergency Nearby!")

	w = env.do(http.MethodGet, "/api/notifications", nil, "u2", "")
	assert.Contains(t, w.Body.String(), `"count":0`)
}

func TestStreamNotifications(t *testing.T) {
	env := setupTestRouter(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/notifications/stream", nil).WithContext(ctx)
	req.Header.Set(HeaderSubjectID, "u1")
	w := httptest.NewRecorder()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		env.router.ServeHTTP(w, req)
	}()

	require.Eventually(t, func() bool { return env.broadcaster.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	env.broadcaster.Publish(&models.Notification{ID: "n-other", RecipientID: "u2"})
	env.broadcaster.Publish(&models.Notification{ID: "n-mine", RecipientID: "u1", Title: "Emergency Nearby!"})
	env.broadcaster.Close()
	wg.Wait()

	body := w.Body.String()
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(body, "event:notification"), body)
	assert.Contains(t, body, "n-mine")
	assert.NotContains(t, body, "n-other")
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimitMiddleware(1))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(subject string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(HeaderSubjectID, subject)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, hit("u1"))
	assert.Equal(t, http.StatusTooManyRequests, hit("u1"))
	assert.Equal(t, http.StatusOK, hit("u2"), "buckets are per client")
}
