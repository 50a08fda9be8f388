package receipt

import (
	"fmt"
	"strings"

	"github.com/zombor/home-inventory/internal/apperrors"
)

// AddCategory creates a category. parentID may be empty.
func (s *Service) AddCategory(name, parentID string) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.New(apperrors.KindValidation, "category name is required", nil)
	}
	if parentID != "" {
		found, err := s.db.HasCategory(parentID)
		if err != nil {
			return nil, fmt.Errorf("checking parent category: %w", err)
		}
		if !found {
			return nil, apperrors.New(apperrors.KindValidation, "parent category "+parentID+" does not exist", nil)
		}
	}

	category := &Category{
		ID:        s.idGenerator.Generate(),
		Name:      name,
		ParentID:  parentID,
		CreatedAt: s.timeSource.Now(),
	}
	if err := s.db.SaveCategory(category); err != nil {
		return nil, fmt.Errorf("saving category: %w", err)
	}
	return category, nil
}

// ListCategories returns all categories
func (s *Service) ListCategories() ([]*Category, error) {
	categories, err := s.db.ListCategories()
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return categories, nil
}

// AddLocation creates a storage location
func (s *Service) AddLocation(name, description string) (*Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.New(apperrors.KindValidation, "location name is required", nil)
	}

	location := &Location{
		ID:          s.idGenerator.Generate(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.timeSource.Now(),
	}
	if err := s.db.SaveLocation(location); err != nil {
		return nil, fmt.Errorf("saving location: %w", err)
	}
	return location, nil
}

// ListLocations returns all locations
func (s *Service) ListLocations() ([]*Location, error) {
	locations, err := s.db.ListLocations()
	if err != nil {
		return nil, fmt.Errorf("listing locations: %w", err)
	}
	return locations, nil
}

// ListInventory returns all inventory items
func (s *Service) ListInventory() ([]*InventoryItem, error) {
	inventory, err := s.db.ListInventory()
	if err != nil {
		return nil, fmt.Errorf("listing inventory: %w", err)
	}
	return inventory, nil
}
