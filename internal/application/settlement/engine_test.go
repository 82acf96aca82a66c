package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"

	"quantumgrid-backend/internal/application/listings"
	"quantumgrid-backend/internal/application/matching"
	"quantumgrid-backend/internal/application/pricebands"
	"quantumgrid-backend/internal/application/trades"
	"quantumgrid-backend/internal/domain"
	"quantumgrid-backend/internal/infrastructure/metrics"
	"quantumgrid-backend/internal/testutil"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	trades []*domain.Trade
	err    error
}

func (p *recordingPublisher) PublishTradeSettled(_ context.Context, t *domain.Trade) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trades = append(p.trades, t)
	return p.err
}

type fixture struct {
	engine    *Engine
	db        *gorm.DB
	listings  *listings.Service
	trades    *trades.Service
	publisher *recordingPublisher
	metrics   *metrics.Metrics
}

func setup(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	testutil.SeedBand(t, db, "X", "5.00", "8.00")
	m := metrics.New(prometheus.NewRegistry())
	bands := &pricebands.Service{DB: db}
	store := &listings.Service{DB: db, Bands: bands, Metrics: m}
	ledger := &trades.Service{DB: db, Metrics: m}
	pub := &recordingPublisher{}
	return &fixture{
		engine: &Engine{
			DB:        db,
			Bands:     bands,
			Listings:  store,
			Matcher:   &matching.Engine{Listings: store, Metrics: m},
			Ledger:    ledger,
			Publisher: pub,
			Metrics:   m,
		},
		db:        db,
		listings:  store,
		trades:    ledger,
		publisher: pub,
		metrics:   m,
	}
}

func counter(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, c.Write(&out))
	return out.GetCounter().GetValue()
}

func TestSettleDirect_DecrementsAndRecords(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seller, buyer := uuid.New(), uuid.New()
	l := testutil.SeedListing(t, f.db, testutil.ListingOpts{SellerID: seller, Capacity: "100", Price: "6", Region: "X"})

	trade, err := f.engine.SettleDirect(ctx, DirectInput{
		TradeID:     "trade-1",
		BuyerID:     buyer,
		SellerID:    seller,
		ListingID:   l.ListingID,
		Quantity:    testutil.Dec("40"),
		AgreedPrice: testutil.Dec("6.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TradeCompleted, trade.Status)
	assert.Equal(t, domain.PaymentPaid, trade.PaymentStatus)
	assert.Equal(t, "X", trade.Region)
	assert.Equal(t, domain.SourceType("solar"), trade.SourceType)

	stored, err := f.listings.GetListing(ctx, l.ListingID)
	require.NoError(t, err)
	assert.True(t, stored.Capacity.Equal(testutil.Dec("60")))

	saved, err := f.trades.GetTrade(ctx, "trade-1")
	require.NoError(t, err)
	assert.True(t, saved.AgreedPricePerUnit.Equal(testutil.Dec("6.5")))

	require.Len(t, f.publisher.trades, 1)
	assert.Equal(t, "trade-1", f.publisher.trades[0].TradeID)
	assert.Equal(t, 1.0, counter(t, f.metrics.Settlements.WithLabelValues(PathDirect, "ok")))
}

func TestSettleDirect_PaymentStatusFromCaller(t *testing.T) {
	f := setup(t)
	seller := uuid.New()
	l := testutil.SeedListing(t, f.db, testutil.ListingOpts{SellerID: seller, Region: "X"})

	trade, err := f.engine.SettleDirect(context.Background(), DirectInput{
		BuyerID: uuid.New(), SellerID: seller, ListingID: l.ListingID,
		Quantity: testutil.Dec("1"), AgreedPrice: testutil.Dec("6"), PaymentStatus: "PARTIAL",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPartial, trade.PaymentStatus)
	_, err = uuid.Parse(trade.TradeID)
	assert.NoError(t, err, "system generated trade ids are uuids")
}

func TestSettleDirect_Rejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seller := uuid.New()
	l := testutil.SeedListing(t, f.db, testutil.ListingOpts{SellerID: seller, Capacity: "10", Region: "X"})

	base := DirectInput{BuyerID: uuid.New(), SellerID: seller, ListingID: l.ListingID, Quantity: testutil.Dec("5"), AgreedPrice: testutil.Dec("6")}

	in := base
	in.SellerID = uuid.New()
	_, err := f.engine.SettleDirect(ctx, in)
	assert.ErrorIs(t, err, domain.ErrListingSellerMismatch)

	in = base
	in.Quantity = testutil.Dec("11")
	_, err = f.engine.SettleDirect(ctx, in)
	assert.ErrorIs(t, err, domain.ErrInsufficientCapacity)

	in = base
	in.AgreedPrice = testutil.Dec("8.01")
	_, err = f.engine.SettleDirect(ctx, in)
	assert.ErrorIs(t, err, domain.ErrPriceOutOfBand)

	in = base
	in.ListingID = uuid.New()
	_, err = f.engine.SettleDirect(ctx, in)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	in = base
	in.BuyerID = seller
	_, err = f.engine.SettleDirect(ctx, in)
	var ve *domain.ValidationError
	assert.True(t, errors.As(err, &ve))

	assert.Equal(t, int64(0), testutil.CountRows(t, f.db, &domain.Trade{}), "failed settlements record nothing")
	stored, err := f.listings.GetListing(ctx, l.ListingID)
	require.NoError(t, err)
	assert.True(t, stored.Capacity.Equal(testutil.Dec("10")))
	assert.Empty(t, f.publisher.trades)
}

func TestSettleDirect_IdempotentOnTradeID(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seller := uuid.New()
	l := testutil.SeedListing(t, f.db, testutil.ListingOpts{SellerID: seller, Capacity: "100", Region: "X"})
	in := DirectInput{TradeID: "same", BuyerID: uuid.New(), SellerID: seller, ListingID: l.ListingID, Quantity: testutil.Dec("10"), AgreedPrice: testutil.Dec("6")}

	_, err := f.engine.SettleDirect(ctx, in)
	require.NoError(t, err)
	_, err = f.engine.SettleDirect(ctx, in)
	assert.ErrorIs(t, err, domain.ErrDuplicateTrade)

	assert.Equal(t, int64(1), testutil.CountRows(t, f.db, &domain.Trade{}))
	stored, err := f.listings.GetListing(ctx, l.ListingID)
	require.NoError(t, err)
	assert.True(t, stored.Capacity.Equal(testutil.Dec("90")), "a duplicate does not reserve again")
}

func TestSettleDirect_ConcurrentSameTradeID(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seller := uuid.New()
	l := testutil.SeedListing(t, f.db, testutil.ListingOpts{SellerID: seller, Capacity: "100", Region: "X"})
	in := DirectInput{TradeID: "race", BuyerID: uuid.New(), SellerID: seller, ListingID: l.ListingID, Quantity: testutil.Dec("10"), AgreedPrice: testutil.Dec("6")}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.SettleDirect(ctx, in)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, domain.ErrDuplicateTrade)
		}
	}
	assert.Equal(t, 1, ok)
	stored, err := f.listings.GetListing(ctx, l.ListingID)
	require.NoError(t, err)
	assert.True(t, stored.Capacity.Equal(testutil.Dec("90")))
}

func TestSettleFromRequest_PicksCheapestAndExhausts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	buyer := uuid.New()
	cheap := testutil.SeedListing(t, f.db, testutil.ListingOpts{Capacity: "50", Price: "6.5", Region: "X"})
	testutil.SeedListing(t, f.db, testutil.ListingOpts{Capacity: "50", Price: "6.8", Region: "X"})

	trade, err := f.engine.SettleFromRequest(ctx, buyer, PurchaseRequest{Quantity: testutil.Dec("50"), MaxPrice: testutil.Dec("7"), SourceType: "solar"})
	require.NoError(t, err)
	assert.Equal(t, cheap.ListingID, trade.ListingID)
	assert.Equal(t, cheap.SellerID, trade.SellerID)
	assert.True(t, trade.AgreedPricePerUnit.Equal(testutil.Dec("6.5")))

	_, err = f.listings.GetListing(ctx, cheap.ListingID)
	assert.ErrorIs(t, err, domain.ErrListingNotFound)
	remaining, err := f.listings.Query(ctx, listings.Filter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.NotEqual(t, cheap.ListingID, remaining[0].ListingID)

	// The ledger keeps the trade although its listing is gone.
	saved, err := f.trades.GetTrade(ctx, trade.TradeID)
	require.NoError(t, err)
	assert.Equal(t, cheap.ListingID, saved.ListingID)
}

func TestSettleFromRequest_NoEligibleListing(t *testing.T) {
	f := setup(t)
	testutil.SeedListing(t, f.db, testutil.ListingOpts{Capacity: "5", Price: "6", Region: "X"})

	_, err := f.engine.SettleFromRequest(context.Background(), uuid.New(), PurchaseRequest{Quantity: testutil.Dec("10"), MaxPrice: testutil.Dec("7")})
	assert.ErrorIs(t, err, domain.ErrNoEligibleListing)
	assert.Equal(t, 1.0, counter(t, f.metrics.Settlements.WithLabelValues(PathRequest, "no_eligible_listing")))
}

func TestSettleFromRequest_IdempotentOnTradeID(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	buyer := uuid.New()
	l := testutil.SeedListing(t, f.db, testutil.ListingOpts{Capacity: "50", Price: "6.5", Region: "X"})
	req := PurchaseRequest{TradeID: "t1", Quantity: testutil.Dec("50"), MaxPrice: testutil.Dec("7")}

	first, err := f.engine.SettleFromRequest(ctx, buyer, req)
	require.NoError(t, err)
	assert.Equal(t, l.ListingID, first.ListingID)

	// The only listing is exhausted, so a fresh match would find nothing.
	_, err = f.engine.SettleFromRequest(ctx, buyer, req)
	assert.ErrorIs(t, err, domain.ErrDuplicateTrade)
	assert.NotErrorIs(t, err, domain.ErrNoEligibleListing)
	assert.Equal(t, int64(1), testutil.CountRows(t, f.db, &domain.Trade{}))
	assert.Equal(t, 1.0, counter(t, f.metrics.Settlements.WithLabelValues(PathRequest, "duplicate_trade")))
}

func TestSettleFromRequest_ReplayDoesNotReserveAgain(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	l := testutil.SeedListing(t, f.db, testutil.ListingOpts{Capacity: "100", Price: "6", Region: "X"})
	req := PurchaseRequest{TradeID: "t2", Quantity: testutil.Dec("10"), MaxPrice: testutil.Dec("7")}

	_, err := f.engine.SettleFromRequest(ctx, uuid.New(), req)
	require.NoError(t, err)
	_, err = f.engine.SettleFromRequest(ctx, uuid.New(), req)
	assert.ErrorIs(t, err, domain.ErrDuplicateTrade)

	stored, err := f.listings.GetListing(ctx, l.ListingID)
	require.NoError(t, err)
	assert.True(t, stored.Capacity.Equal(testutil.Dec("90")))
}

func TestSettleFromRequest_BandTightenedSinceListing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	l := testutil.SeedListing(t, f.db, testutil.ListingOpts{Capacity: "100", Price: "7.5", Region: "X"})
	testutil.SeedBand(t, f.db, "X", "5", "7")

	_, err := f.engine.SettleFromRequest(ctx, uuid.New(), PurchaseRequest{Quantity: testutil.Dec("10"), MaxPrice: testutil.Dec("8")})
	require.ErrorIs(t, err, domain.ErrPriceOutOfBand)

	stored, err := f.listings.GetListing(ctx, l.ListingID)
	require.NoError(t, err)
	assert.True(t, stored.Capacity.Equal(testutil.Dec("100")))
}

// rollbackFailingLedger ends the transaction itself before failing, so the engine's own
// rollback fails and the settlement cannot be compensated.
type rollbackFailingLedger struct {
	*trades.Service
}

func (l rollbackFailingLedger) Append(tx *gorm.DB, _ *domain.Trade) error {
	tx.Rollback()
	return errors.New("ledger unavailable")
}

type failingLedger struct {
	*trades.Service
}

func (failingLedger) Append(*gorm.DB, *domain.Trade) error {
	return errors.New("ledger unavailable")
}

func TestSettle_AppendFailureRollsBackReservation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seller := uuid.New()
	l := testutil.SeedListing(t, f.db, testutil.ListingOpts{SellerID: seller, Capacity: "100", Region: "X"})
	f.engine.Ledger = failingLedger{f.trades}

	_, err := f.engine.SettleDirect(ctx, DirectInput{BuyerID: uuid.New(), SellerID: seller, ListingID: l.ListingID, Quantity: testutil.Dec("30"), AgreedPrice: testutil.Dec("6")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrConsistencyFault)

	stored, err := f.listings.GetListing(ctx, l.ListingID)
	require.NoError(t, err)
	assert.True(t, stored.Capacity.Equal(testutil.Dec("100")), "capacity restored by rollback")
	assert.Equal(t, int64(0), testutil.CountRows(t, f.db, &domain.ListingEvent{}))
}

func TestSettle_ConsistencyFaultWhenRollbackFails(t *testing.T) {
	f := setup(t)
	seller := uuid.New()
	l := testutil.SeedListing(t, f.db, testutil.ListingOpts{SellerID: seller, Capacity: "100", Region: "X"})
	f.engine.Ledger = rollbackFailingLedger{f.trades}

	_, err := f.engine.SettleDirect(context.Background(), DirectInput{BuyerID: uuid.New(), SellerID: seller, ListingID: l.ListingID, Quantity: testutil.Dec("30"), AgreedPrice: testutil.Dec("6")})
	require.ErrorIs(t, err, domain.ErrConsistencyFault)
	assert.Equal(t, 1.0, counter(t, f.metrics.ConsistencyFaults))
	assert.Empty(t, f.publisher.trades)
}

func TestSettle_PublishFailureDoesNotFailSettlement(t *testing.T) {
	f := setup(t)
	seller := uuid.New()
	l := testutil.SeedListing(t, f.db, testutil.ListingOpts{SellerID: seller, Capacity: "100", Region: "X"})
	f.publisher.err = errors.New("broker down")

	_, err := f.engine.SettleDirect(context.Background(), DirectInput{BuyerID: uuid.New(), SellerID: seller, ListingID: l.ListingID, Quantity: testutil.Dec("30"), AgreedPrice: testutil.Dec("6")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), testutil.CountRows(t, f.db, &domain.Trade{}))
}

func TestSettle_ConcurrentRequestsNeverOverAllocate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	l := testutil.SeedListing(t, f.db, testutil.ListingOpts{Capacity: "100", Price: "6", Region: "X"})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.SettleFromRequest(ctx, uuid.New(), PurchaseRequest{Quantity: testutil.Dec("60"), MaxPrice: testutil.Dec("7")})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrInsufficientCapacity) || errors.Is(err, domain.ErrNoEligibleListing), "got %v", err)
	}
	assert.Equal(t, 1, ok)
	stored, err := f.listings.GetListing(ctx, l.ListingID)
	require.NoError(t, err)
	assert.True(t, stored.Capacity.Equal(testutil.Dec("40")))
	assert.Equal(t, int64(1), testutil.CountRows(t, f.db, &domain.Trade{}))
}
