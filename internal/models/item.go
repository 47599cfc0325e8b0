package models

// RentalItem is the listing a booking points at. Items and their renter
// requirement schemas are loaded from configs/items.yaml at startup; the
// listing service itself is an external collaborator.
type RentalItem struct {
	ID       int64              `yaml:"id" json:"id"`
	OwnerID  int64              `yaml:"owner_id" json:"owner_id"`
	Name     string             `yaml:"name" json:"name"`
	IsActive bool               `yaml:"is_active" json:"is_active"`
	Fields   []RequirementField `yaml:"fields" json:"fields"`
}
