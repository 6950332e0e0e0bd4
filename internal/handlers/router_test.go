package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prudhvinik1/moonbattery/internal/database"
	"github.com/prudhvinik1/moonbattery/internal/events"
	"github.com/prudhvinik1/moonbattery/internal/repositories"
	"github.com/prudhvinik1/moonbattery/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	handler     http.Handler
	db          *sql.DB
	credentials *services.CredentialService
}

func newTestServer(t *testing.T, checks ...HealthCheck) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, database.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = database.MigrateSQLite(ctx, db)
	require.NoError(t, err)

	credentials, err := services.NewCredentialService("test-secret", time.Hour)
	require.NoError(t, err)

	logger := zap.NewNop()
	deviceRepo := repositories.NewSQLiteDeviceRepository(db)
	deviceService := services.NewDeviceService(
		deviceRepo,
		repositories.NewSQLiteConfigurationRepository(db, 5*time.Second),
		repositories.NewContactPresenceRepository(deviceRepo, time.Minute),
		credentials,
		events.Nop{},
		logger,
	)

	handler := NewRouter(RouterDeps{
		Devices:      deviceService,
		Credentials:  credentials,
		HealthChecks: checks,
		Logger:       logger,
	})

	return &testServer{handler: handler, db: db, credentials: credentials}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(t *testing.T, mac string) registerResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/register", "", `{"macAddress":"`+mac+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp registerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (s *testServer) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e), rec.Body.String())
	return e
}

func TestRegister(t *testing.T) {
	s := newTestServer(t)

	resp := s.register(t, "AA:BB:CC:DD:EE:FF")

	assert.Len(t, resp.SerialNumber, 6)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, 1, s.count(t, "devices"))
}

func TestRegister_DuplicateMac(t *testing.T) {
	s := newTestServer(t)
	original := s.register(t, "AA:BB:CC:DD:EE:FF")

	// ACT
	rec := s.do(t, http.MethodPost, "/api/register", "", `{"macAddress":"AA:BB:CC:DD:EE:FF"}`)

	// ASSERT
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, http.StatusBadRequest, e.Status)
	assert.Equal(t, ErrCodeDuplicateMacAddress, e.Code)

	// Original credential still works
	rec = s.do(t, http.MethodPost, "/api/ping", original.Token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegister_MalformedMac(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []string{
		`{"macAddress":"AABBCCDDEEFF"}`,
		`{"macAddress":"AA:BB:CC:DD:EE"}`,
		`{"macAddress":"GG:BB:CC:DD:EE:FF"}`,
		`{}`,
		`not json`,
	} {
		rec := s.do(t, http.MethodPost, "/api/register", "", body)

		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, ErrCodeValidation, decodeError(t, rec).Code, body)
	}

	assert.Equal(t, 0, s.count(t, "devices"), "no store write on validation failure")
}

func TestPing(t *testing.T) {
	s := newTestServer(t)
	device := s.register(t, "AA:BB:CC:DD:EE:FF")

	rec := s.do(t, http.MethodPost, "/api/ping", device.Token, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp pingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.WithinDuration(t, time.Now(), resp.LastContact, 5*time.Second)
}

func TestPing_WithoutCredential(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "AA:BB:CC:DD:EE:FF")

	rec := s.do(t, http.MethodPost, "/api/ping", "", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, ErrCodeUnauthorized, e.Code)
	assert.Equal(t, "Authentication required", e.Message)

	var touched int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM devices WHERE last_contact IS NOT NULL`).Scan(&touched))
	assert.Equal(t, 0, touched, "lastContact must not change")
}

func TestAuth_RejectsForgedCredentials(t *testing.T) {
	s := newTestServer(t)
	device := s.register(t, "AA:BB:CC:DD:EE:FF")

	other, err := services.NewCredentialService("wrong-secret", time.Hour)
	require.NoError(t, err)
	wrongSecret, _, err := other.Issue(device.SerialNumber, 1)
	require.NoError(t, err)

	parts := strings.Split(device.Token, ".")
	tampered := parts[0] + "." + parts[1] + "." + flipFirst(parts[2])

	for name, token := range map[string]string{
		"tampered signature": tampered,
		"wrong secret":       wrongSecret,
		"garbage":            "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/ping", token, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			rec = s.do(t, http.MethodPost, "/api/configurations", token, `{"configurations":{"a":"1"}}`)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, ErrCodeUnauthorized, decodeError(t, rec).Code)
		})
	}

	assert.Equal(t, 0, s.count(t, "configurations"))
	var touched int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM devices WHERE last_contact IS NOT NULL`).Scan(&touched))
	assert.Equal(t, 0, touched)
}

func TestPing_DeviceNotFound(t *testing.T) {
	s := newTestServer(t)
	token, _, err := s.credentials.Issue("999999", 99)
	require.NoError(t, err)

	rec := s.do(t, http.MethodPost, "/api/ping", token, "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeDeviceNotFound, decodeError(t, rec).Code)
}

func TestSetConfigurations(t *testing.T) {
	s := newTestServer(t)
	device := s.register(t, "AA:BB:CC:DD:EE:FF")

	// ACT: fresh device
	rec := s.do(t, http.MethodPost, "/api/configurations", device.Token,
		`{"configurations":{"chargingRate":"1.5","maxCapacity":"10000"}}`)

	// ASSERT
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp setConfigurationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.ElementsMatch(t, []string{"chargingRate", "maxCapacity"}, resp.UpdatedKeys)
	assert.Equal(t, 2, s.count(t, "configurations"))

	// ACT: overwrite one key
	rec = s.do(t, http.MethodPost, "/api/configurations", device.Token,
		`{"configurations":{"chargingRate":"2.0"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// ASSERT
	assert.Equal(t, 2, s.count(t, "configurations"))

	rec = s.do(t, http.MethodGet, "/api/configurations", device.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stored configurationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, device.SerialNumber, stored.SerialNumber)
	assert.Equal(t, map[string]string{"chargingRate": "2.0", "maxCapacity": "10000"}, stored.Configurations)
}

func TestSetConfigurations_KeepsBodyOrderAndScalarText(t *testing.T) {
	s := newTestServer(t)
	device := s.register(t, "AA:BB:CC:DD:EE:FF")

	rec := s.do(t, http.MethodPost, "/api/configurations", device.Token,
		`{"configurations":{"z":1.50,"a":true,"m":"text"}}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp setConfigurationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"z", "a", "m"}, resp.UpdatedKeys)

	rec = s.do(t, http.MethodGet, "/api/configurations", device.Token, "")
	var stored configurationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, map[string]string{"z": "1.50", "a": "true", "m": "text"}, stored.Configurations)
}

func TestSetConfigurations_NotAnObject(t *testing.T) {
	s := newTestServer(t)
	device := s.register(t, "AA:BB:CC:DD:EE:FF")

	for _, body := range []string{
		`{"configurations":"invalid"}`,
		`{"configurations":["a","b"]}`,
		`{"configurations":null}`,
		`{"configurations":{"nested":{"a":1}}}`,
		`{}`,
	} {
		rec := s.do(t, http.MethodPost, "/api/configurations", device.Token, body)

		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, ErrCodeValidation, decodeError(t, rec).Code, body)
	}

	assert.Equal(t, 0, s.count(t, "configurations"))
}

func TestSetConfigurations_RollbackReturnsServerError(t *testing.T) {
	s := newTestServer(t)
	device := s.register(t, "AA:BB:CC:DD:EE:FF")

	rec := s.do(t, http.MethodPost, "/api/configurations", device.Token, `{"configurations":{"a":"1","c":"3"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := s.db.Exec(`
		CREATE TRIGGER fail_on_b BEFORE INSERT ON configurations
		WHEN NEW.key = 'b'
		BEGIN
			SELECT RAISE(ABORT, 'simulated fault');
		END;`)
	require.NoError(t, err)

	// ACT: fault on the second of three entries
	rec = s.do(t, http.MethodPost, "/api/configurations", device.Token,
		`{"configurations":{"a":"10","b":"20","c":"30"}}`)

	// ASSERT
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, ErrCodeConfigurationUpdateFailed, e.Code)
	assert.NotContains(t, e.Message, "simulated fault", "storage detail stays server-side")

	rec = s.do(t, http.MethodGet, "/api/configurations", device.Token, "")
	var stored configurationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, map[string]string{"a": "1", "c": "3"}, stored.Configurations)
}

func TestPresence(t *testing.T) {
	s := newTestServer(t)
	device := s.register(t, "AA:BB:CC:DD:EE:FF")

	rec := s.do(t, http.MethodGet, "/api/presence", device.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var before map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &before))
	assert.Equal(t, "offline", before["status"])
	assert.NotContains(t, before, "lastSeen")

	s.do(t, http.MethodPost, "/api/ping", device.Token, "")

	rec = s.do(t, http.MethodGet, "/api/presence", device.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var after presenceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	assert.Equal(t, "online", after.Status)
	require.NotNil(t, after.LastSeen)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, HealthCheck{Name: "sqlite", Check: func(ctx context.Context) error { return nil }})

	rec := s.do(t, http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestHealth_Unavailable(t *testing.T) {
	s := newTestServer(t, HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
		return errors.New("connection refused")
	}})

	rec := s.do(t, http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/unknown", "", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func flipFirst(s string) string {
	b := []byte(s)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	return string(b)
}
