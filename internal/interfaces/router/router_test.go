package router

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"quantumgrid-backend/internal/application/ticker"
	"quantumgrid-backend/internal/config"
	"quantumgrid-backend/internal/domain"
	"quantumgrid-backend/internal/infrastructure/metrics"
	"quantumgrid-backend/internal/middleware"
	"quantumgrid-backend/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	app *fiber.App
	mr  *miniredis.Miniredis
}

func setupApp(t *testing.T) *harness {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	db := testutil.NewDB(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	cfg := &config.Config{HealthAdminKey: "k", SourceTypes: domain.DefaultSourceTypes}
	app := CreateApp(cfg, Deps{DB: db, Rdb: rdb, Metrics: m, Gatherer: reg, Ticker: &ticker.Service{Rdb: rdb, Metrics: m}})
	return &harness{app: app, mr: mr}
}

// login stores a session as the auth service would and returns its cookie.
func (h *harness) login(t *testing.T, role string) (uuid.UUID, string) {
	id := uuid.New()
	sid := uuid.NewString()
	b, _ := json.Marshal(map[string]interface{}{"user": middleware.SessionUser{UserID: id.String(), Role: role}})
	require.NoError(t, h.mr.Set(middleware.SessionKey(sid), string(b)))
	return id, middleware.SessionCookieName + "=" + sid
}

func (h *harness) do(t *testing.T, method, path, cookie string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	out := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestRoutes_RequireSession(t *testing.T) {
	h := setupApp(t)
	for _, p := range []string{"/api/v1/listings/marketplace", "/api/v1/trading/trades", "/api/v1/price-bands", "/api/v1/market/ticker"} {
		status, _ := h.do(t, "GET", p, "", nil)
		assert.Equal(t, 401, status, p)
	}
}

func TestRoutes_Permissions(t *testing.T) {
	h := setupApp(t)
	_, buyer := h.login(t, "buyer")
	_, seller := h.login(t, "seller")

	status, _ := h.do(t, "PUT", "/api/v1/price-bands/north", seller, map[string]interface{}{"minimum": 1, "maximum": 2})
	assert.Equal(t, 403, status)
	status, _ = h.do(t, "POST", "/api/v1/listings/offers", buyer, map[string]interface{}{})
	assert.Equal(t, 403, status)
	status, _ = h.do(t, "POST", "/api/v1/trading/requests", seller, map[string]interface{}{})
	assert.Equal(t, 403, status)
	status, _ = h.do(t, "POST", "/api/v1/trading/execute", buyer, map[string]interface{}{})
	assert.Equal(t, 403, status, "direct trades are completed by the seller")
}

// A regulator sets a band, a seller lists, a buyer's purchase request settles against the
// listing and the seller sees the trade.
func TestRoutes_EndToEnd(t *testing.T) {
	h := setupApp(t)
	_, regulator := h.login(t, "govt_authority")
	sellerID, seller := h.login(t, "seller")
	buyerID, buyer := h.login(t, "buyer")

	status, body := h.do(t, "PUT", "/api/v1/price-bands/north", regulator, map[string]interface{}{"minimum": "3", "maximum": "10"})
	require.Equal(t, 200, status, body)

	status, body = h.do(t, "POST", "/api/v1/listings/offers", seller, map[string]interface{}{
		"source_id": uuid.NewString(), "source_type": "solar", "capacity": 40, "price_per_unit": 6,
		"region": "north", "latitude": 10, "longitude": 20,
	})
	require.Equal(t, 201, status, body)
	listingID := body["data"].(map[string]interface{})["listing_id"].(string)

	status, body = h.do(t, "POST", "/api/v1/trading/requests", buyer, map[string]interface{}{
		"trade_id": "e2e-1", "quantity": 15, "max_price": 7, "source_type": "solar",
	})
	require.Equal(t, 201, status, body)
	trade := body["data"].(map[string]interface{})
	assert.Equal(t, sellerID.String(), trade["seller_id"])
	assert.Equal(t, buyerID.String(), trade["buyer_id"])

	status, body = h.do(t, "GET", "/api/v1/listings/offers/"+listingID, seller, nil)
	require.Equal(t, 200, status)
	assert.Equal(t, "25", body["data"].(map[string]interface{})["capacity"])

	status, body = h.do(t, "GET", "/api/v1/trading/trades?role=seller", seller, nil)
	require.Equal(t, 200, status)
	assert.Len(t, body["data"], 1)

	status, body = h.do(t, "GET", "/api/v1/listing-events/"+listingID, seller, nil)
	require.Equal(t, 200, status)
	assert.Len(t, body["data"], 2, "CREATED then RESERVED")

	status, _ = h.do(t, "PATCH", "/api/v1/trading/trades/e2e-1/status", seller, map[string]interface{}{"status": "confirmed"})
	assert.Equal(t, 200, status)
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	h := setupApp(t)
	_, buyer := h.login(t, "buyer")
	h.do(t, "GET", "/api/v1/price-bands", buyer, nil)

	status, body := h.do(t, "GET", "/health/json", "", nil)
	require.Equal(t, 200, status)
	assert.Equal(t, "ok", body["status"])
	traffic := body["traffic"].(map[string]interface{})
	assert.Equal(t, float64(1), traffic["totalRequests"])

	req := httptest.NewRequest("GET", "/metrics", nil)
	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "quantumgrid_consistency_faults_total")

	resp, err = h.app.Test(httptest.NewRequest("GET", "/health/json", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-Id"))
}
