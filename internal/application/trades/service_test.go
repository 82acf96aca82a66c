package trades

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"quantumgrid-backend/internal/domain"
	"quantumgrid-backend/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTrades(t *testing.T) (*Service, *gorm.DB) {
	db := testutil.NewDB(t)
	return &Service{DB: db}, db
}

func seedTrade(t *testing.T, svc *Service, buyer, seller uuid.UUID, status domain.TradeStatus) *domain.Trade {
	t.Helper()
	tr := &domain.Trade{
		TradeID:            NewTradeID(),
		BuyerID:            buyer,
		SellerID:           seller,
		ListingID:          uuid.New(),
		Quantity:           testutil.Dec("10"),
		AgreedPricePerUnit: testutil.Dec("6.5"),
		Status:             status,
		PaymentStatus:      domain.PaymentPaid,
		Region:             "X",
		SourceType:         "solar",
	}
	require.NoError(t, svc.Append(svc.DB, tr))
	return tr
}

func TestAppend_DuplicateTradeID(t *testing.T) {
	svc, db := setupTrades(t)
	tr := seedTrade(t, svc, uuid.New(), uuid.New(), domain.TradeCompleted)

	dup := *tr
	err := svc.Append(db, &dup)
	assert.ErrorIs(t, err, domain.ErrDuplicateTrade)
	assert.Equal(t, int64(1), testutil.CountRows(t, db, &domain.Trade{}))

	exists, err := svc.Exists(db, tr.TradeID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAppend_Validation(t *testing.T) {
	svc, db := setupTrades(t)
	err := svc.Append(db, &domain.Trade{TradeID: "x", Status: "shipped"})
	var ve *domain.ValidationError
	assert.True(t, errors.As(err, &ve))

	err = svc.Append(db, &domain.Trade{TradeID: "x", Status: domain.TradeCompleted, PaymentStatus: "refunded"})
	assert.True(t, errors.As(err, &ve))
}

func TestGetTradeForUser(t *testing.T) {
	svc, _ := setupTrades(t)
	ctx := context.Background()
	buyer, seller := uuid.New(), uuid.New()
	tr := seedTrade(t, svc, buyer, seller, domain.TradeCompleted)

	got, err := svc.GetTradeForUser(ctx, tr.TradeID, seller)
	require.NoError(t, err)
	assert.True(t, got.Quantity.Equal(testutil.Dec("10")))

	_, err = svc.GetTradeForUser(ctx, tr.TradeID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.GetTrade(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTradeNotFound)
}

func TestListForUser_RoleStatusAndPaging(t *testing.T) {
	svc, _ := setupTrades(t)
	ctx := context.Background()
	me := uuid.New()
	for i := 0; i < 3; i++ {
		seedTrade(t, svc, me, uuid.New(), domain.TradeCompleted)
	}
	seedTrade(t, svc, uuid.New(), me, domain.TradeCompleted)
	seedTrade(t, svc, uuid.New(), me, domain.TradeCancelled)
	seedTrade(t, svc, uuid.New(), uuid.New(), domain.TradeCompleted)

	page, err := svc.ListForUser(ctx, ListFilter{UserID: me})
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, DefaultLimit, page.Limit)

	page, err = svc.ListForUser(ctx, ListFilter{UserID: me, Role: "buyer"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)

	page, err = svc.ListForUser(ctx, ListFilter{UserID: me, Role: "seller", Status: "CANCELLED"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)

	page, err = svc.ListForUser(ctx, ListFilter{UserID: me, Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Trades, 2)
	assert.Equal(t, 3, page.TotalPages)

	page, err = svc.ListForUser(ctx, ListFilter{UserID: me, Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, page.Limit)

	_, err = svc.ListForUser(ctx, ListFilter{UserID: me, Role: "broker"})
	var ve *domain.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestUpdateStatus_DisputePath(t *testing.T) {
	svc, _ := setupTrades(t)
	ctx := context.Background()
	buyer, seller := uuid.New(), uuid.New()
	tr := seedTrade(t, svc, buyer, seller, domain.TradeCompleted)

	for _, step := range []struct {
		status string
		want   domain.TradeStatus
	}{
		{"CONFIRMED", domain.TradeConfirmed},
		{"in_progress", domain.TradeInProgress},
		{"completed", domain.TradeFinalized},
	} {
		updated, err := svc.UpdateStatus(ctx, UpdateStatusInput{TradeID: tr.TradeID, Actor: buyer, Vocabulary: domain.VocabularyDispute, Status: step.status})
		require.NoError(t, err, step.status)
		assert.Equal(t, step.want, updated.Status)
	}

	_, err := svc.UpdateStatus(ctx, UpdateStatusInput{TradeID: tr.TradeID, Actor: buyer, Vocabulary: domain.VocabularyDispute, Status: "disputed"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "finalized is terminal")
}

func TestListForUser_StatusInCallerVocabulary(t *testing.T) {
	svc, _ := setupTrades(t)
	ctx := context.Background()
	me := uuid.New()
	seedTrade(t, svc, me, uuid.New(), domain.TradeCompleted)
	seedTrade(t, svc, me, uuid.New(), domain.TradeFinalized)

	page, err := svc.ListForUser(ctx, ListFilter{UserID: me, Status: "completed"})
	require.NoError(t, err)
	require.Len(t, page.Trades, 1)
	assert.Equal(t, domain.TradeCompleted, page.Trades[0].Status)

	page, err = svc.ListForUser(ctx, ListFilter{UserID: me, Status: "completed", Vocabulary: domain.VocabularyDispute})
	require.NoError(t, err)
	require.Len(t, page.Trades, 1)
	assert.Equal(t, domain.TradeFinalized, page.Trades[0].Status)

	_, err = svc.ListForUser(ctx, ListFilter{UserID: me, Status: "finalized"})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestUpdateStatus_DisputedRejectsCompleted(t *testing.T) {
	svc, _ := setupTrades(t)
	ctx := context.Background()
	buyer, seller := uuid.New(), uuid.New()
	tr := seedTrade(t, svc, buyer, seller, domain.TradeCompleted)

	reason := "meter reading mismatch"
	updated, err := svc.UpdateStatus(ctx, UpdateStatusInput{TradeID: tr.TradeID, Actor: seller, Vocabulary: domain.VocabularyDispute, Status: "disputed", Reason: &reason})
	require.NoError(t, err)
	require.NotNil(t, updated.StatusReason)
	assert.Equal(t, reason, *updated.StatusReason)

	for _, v := range []domain.Vocabulary{domain.VocabularyDispute, domain.VocabularyLifecycle} {
		_, err = svc.UpdateStatus(ctx, UpdateStatusInput{TradeID: tr.TradeID, Actor: buyer, Vocabulary: v, Status: "completed"})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, string(v))
	}
}

func TestUpdateStatus_LifecyclePath(t *testing.T) {
	svc, _ := setupTrades(t)
	ctx := context.Background()
	buyer, seller := uuid.New(), uuid.New()
	tr := seedTrade(t, svc, buyer, seller, domain.TradeInitiated)

	_, err := svc.UpdateStatus(ctx, UpdateStatusInput{TradeID: tr.TradeID, Actor: buyer, Vocabulary: domain.VocabularyLifecycle, Status: "completed"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "initiated cannot skip pending")

	_, err = svc.UpdateStatus(ctx, UpdateStatusInput{TradeID: tr.TradeID, Actor: buyer, Vocabulary: domain.VocabularyLifecycle, Status: "pending"})
	require.NoError(t, err)
	updated, err := svc.UpdateStatus(ctx, UpdateStatusInput{TradeID: tr.TradeID, Actor: seller, Vocabulary: domain.VocabularyLifecycle, Status: "cancelled"})
	require.NoError(t, err)
	assert.Equal(t, domain.TradeCancelled, updated.Status)

	_, err = svc.UpdateStatus(ctx, UpdateStatusInput{TradeID: tr.TradeID, Actor: seller, Vocabulary: domain.VocabularyLifecycle, Status: "pending"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestUpdateStatus_Errors(t *testing.T) {
	svc, _ := setupTrades(t)
	ctx := context.Background()
	buyer := uuid.New()
	tr := seedTrade(t, svc, buyer, uuid.New(), domain.TradeCompleted)

	_, err := svc.UpdateStatus(ctx, UpdateStatusInput{TradeID: tr.TradeID, Actor: uuid.New(), Vocabulary: domain.VocabularyDispute, Status: "confirmed"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.UpdateStatus(ctx, UpdateStatusInput{TradeID: "nope", Actor: buyer, Vocabulary: domain.VocabularyDispute, Status: "confirmed"})
	assert.ErrorIs(t, err, domain.ErrTradeNotFound)

	_, err = svc.UpdateStatus(ctx, UpdateStatusInput{TradeID: tr.TradeID, Actor: buyer, Vocabulary: domain.VocabularyDispute, Status: "shipped"})
	var ve *domain.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestUpdateStatus_ConcurrentWritersOneWins(t *testing.T) {
	svc, _ := setupTrades(t)
	ctx := context.Background()
	buyer, seller := uuid.New(), uuid.New()
	tr := seedTrade(t, svc, buyer, seller, domain.TradeCompleted)

	var wg sync.WaitGroup
	results := make([]error, 2)
	targets := []string{"confirmed", "disputed"}
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.UpdateStatus(ctx, UpdateStatusInput{TradeID: tr.TradeID, Actor: buyer, Vocabulary: domain.VocabularyDispute, Status: targets[i]})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrInvalidTransition), fmt.Sprint(err))
	}
	assert.Equal(t, 1, ok)

	final, err := svc.GetTrade(ctx, tr.TradeID)
	require.NoError(t, err)
	assert.Contains(t, []domain.TradeStatus{domain.TradeConfirmed, domain.TradeDisputed}, final.Status)
	assert.True(t, final.UpdatedAt.After(time.Time{}))
}
