package listingevents

import (
	"context"
	"encoding/json"

	"quantumgrid-backend/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	DB *gorm.DB
}

// Record appends an audit row through tx, so the event commits or rolls back with the mutation.
func Record(tx *gorm.DB, listingID uuid.UUID, eventType string, data map[string]interface{}, actor *uuid.UUID) error {
	if data == nil {
		data = map[string]interface{}{}
	}
	eventDataBytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return tx.Create(&domain.ListingEvent{
		ListingID: listingID,
		EventType: eventType,
		EventData: datatypes.JSON(eventDataBytes),
		ActorID:   actor,
	}).Error
}

// GetListingEvents returns the history of a listing, oldest first. Events outlive the listing.
func (s *Service) GetListingEvents(ctx context.Context, listingID uuid.UUID) ([]domain.ListingEvent, error) {
	if listingID == uuid.Nil {
		return nil, domain.NewValidationError("listing_id", "is required")
	}
	var events []domain.ListingEvent
	if err := s.DB.WithContext(ctx).Where("listing_id = ?", listingID).Order(`"createdAt" ASC`).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// GetActorEvents returns events caused by a user, newest first.
func (s *Service) GetActorEvents(ctx context.Context, actorID uuid.UUID, limit int) ([]domain.ListingEvent, error) {
	if actorID == uuid.Nil {
		return nil, domain.NewValidationError("actor_id", "is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var events []domain.ListingEvent
	if err := s.DB.WithContext(ctx).Where("actor_id = ?", actorID).Order(`"createdAt" DESC`).Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
