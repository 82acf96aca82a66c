package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"quantumgrid-backend/internal/domain"
	"quantumgrid-backend/internal/infrastructure/database"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewDB opens a private in-memory sqlite database with the marketplace schema.
// The pool is limited to one connection, so concurrent transactions queue instead of failing.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := database.Open("file:" + uuid.NewString() + "?mode=memory")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Dec parses a decimal literal and panics on bad input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// SeedBand writes a price band directly.
func SeedBand(t testing.TB, db *gorm.DB, region, min, max string) {
	t.Helper()
	band := domain.PriceBand{Region: region, Minimum: Dec(min), Maximum: Dec(max)}
	if err := db.WithContext(context.Background()).Save(&band).Error; err != nil {
		t.Fatalf("seed band %s: %v", region, err)
	}
}

// ListingOpts overrides the defaults used by SeedListing.
type ListingOpts struct {
	SellerID   uuid.UUID
	SourceType string
	Capacity   string
	Price      string
	Region     string
}

// SeedListing inserts an active listing without band checks, for tests that need listings
// priced outside a band or inserted in a fixed order.
func SeedListing(t testing.TB, db *gorm.DB, o ListingOpts) domain.Listing {
	t.Helper()
	if o.SellerID == uuid.Nil {
		o.SellerID = uuid.New()
	}
	if o.SourceType == "" {
		o.SourceType = "solar"
	}
	if o.Capacity == "" {
		o.Capacity = "100"
	}
	if o.Price == "" {
		o.Price = "6"
	}
	if o.Region == "" {
		o.Region = "north"
	}
	l := domain.Listing{
		ListingID:    uuid.New(),
		SourceID:     uuid.New(),
		SellerID:     o.SellerID,
		SourceType:   domain.NormalizeSourceType(o.SourceType),
		Capacity:     Dec(o.Capacity),
		PricePerUnit: Dec(o.Price),
		Status:       domain.ListingStatusActive,
		Region:       o.Region,
	}
	l.IntegrityHash = l.ContentHash()
	if err := db.Create(&l).Error; err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	return l
}

// CountRows returns the number of rows in model's table matching the optional where clause.
func CountRows(t testing.TB, db *gorm.DB, model interface{}, where ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// AsUser puts a session user on the request the way the session middleware does.
func AsUser(userID uuid.UUID, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user", map[string]interface{}{"user_id": userID.String(), "role": role})
		return c.Next()
	}
}

// DoJSON sends body (if non-nil) as JSON and decodes the response envelope.
func DoJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

// ErrorCode digs error.details.code out of an error envelope.
func ErrorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	d, _ := e["details"].(map[string]interface{})
	code, _ := d["code"].(string)
	return code
}
