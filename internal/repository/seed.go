package repository

import (
	"context"
	"time"

	"github.com/aditya/resq/internal/models"
	"github.com/pkg/errors"
)

// DemoMechanics is the catalogue used by the in-memory store and the seed script.
func DemoMechanics(now time.Time) []*models.Mechanic {
	mk := func(id, name, phone string, rating float64, status models.MechanicStatus, lng, lat float64, specialties ...string) *models.Mechanic {
		return &models.Mechanic{
			ID:              id,
			Name:            name,
			Phone:           phone,
			Rating:          rating,
			Specialties:     specialties,
			Status:          status,
			CurrentLng:      lng,
			CurrentLat:      lat,
			ServiceRadiusKm: 15,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}
	return []*models.Mechanic{
		mk("mech-001", "John Smith", "555-123-4567", 4.8, models.MechanicStatusAvailable, -74.005, 40.7125, "Emergency Repair", "Towing"),
		mk("mech-002", "Sarah Johnson", "555-987-6543", 4.9, models.MechanicStatusBusy, -74.008, 40.713, "Electrical", "Diagnostics"),
		mk("mech-003", "Mike Wilson", "555-456-7890", 4.7, models.MechanicStatusAvailable, -73.998, 40.7168, "Tire Service", "Battery Jump"),
	}
}

// SeedMechanics inserts mechanics that are not present yet.
func SeedMechanics(ctx context.Context, repo MechanicRepository, mechanics []*models.Mechanic) (int, error) {
	created := 0
	for _, m := range mechanics {
		existing, err := repo.GetByID(ctx, m.ID)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}
		if err := repo.Create(ctx, m); err != nil {
			return created, errors.Wrapf(err, "seed mechanic %s", m.ID)
		}
		created++
	}
	return created, nil
}
