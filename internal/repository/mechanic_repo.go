package repository

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// MechanicRepository is read-mostly: mechanics are managed by an admin
// collaborator, the core only lists them and tracks status and position.
type MechanicRepository interface {
	Create(ctx context.Context, mechanic *models.Mechanic) error
	GetByID(ctx context.Context, id string) (*models.Mechanic, error)
	List(ctx context.Context) ([]*models.Mechanic, error)
	UpdateStatus(ctx context.Context, id string, status models.MechanicStatus) error
	UpdateLocation(ctx context.Context, id string, lat, lng float64) error
}

type mechanicRepository struct {
	db *sqlx.DB
}

func NewMechanicRepository(db *sqlx.DB) MechanicRepository {
	return &mechanicRepository{db: db}
}

func (r *mechanicRepository) Create(ctx context.Context, mechanic *models.Mechanic) error {
	if mechanic.ID == "" {
		mechanic.ID = uuid.New().String()
	}
	mechanic.CreatedAt = time.Now()
	mechanic.UpdatedAt = time.Now()
	if mechanic.Status == "" {
		mechanic.Status = models.MechanicStatusOffline
	}

	query := `
		INSERT INTO mechanics (id, name, phone, email, rating, total_reviews, specialties, status,
			current_lat, current_lng, service_radius_km, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		mechanic.ID, mechanic.Name, mechanic.Phone, mechanic.Email, mechanic.Rating,
		mechanic.TotalReviews, mechanic.Specialties, mechanic.Status, mechanic.CurrentLat,
		mechanic.CurrentLng, mechanic.ServiceRadiusKm, mechanic.CreatedAt, mechanic.UpdatedAt)
	return errors.Wrap(err, "insert mechanic")
}

func (r *mechanicRepository) GetByID(ctx context.Context, id string) (*models.Mechanic, error) {
	var mechanic models.Mechanic
	query := `SELECT * FROM mechanics WHERE id = $1`
	err := r.db.GetContext(ctx, &mechanic, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get mechanic")
	}
	return &mechanic, nil
}

// List returns mechanics in a stable order so filtering stays order-preserving.
func (r *mechanicRepository) List(ctx context.Context) ([]*models.Mechanic, error) {
	var mechanics []*models.Mechanic
	query := `SELECT * FROM mechanics ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &mechanics, query); err != nil {
		return nil, errors.Wrap(err, "list mechanics")
	}
	return mechanics, nil
}

func (r *mechanicRepository) UpdateStatus(ctx context.Context, id string, status models.MechanicStatus) error {
	query := `UPDATE mechanics SET status = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return errors.Wrap(err, "update mechanic status")
	}
	return requireRow(res, id)
}

func (r *mechanicRepository) UpdateLocation(ctx context.Context, id string, lat, lng float64) error {
	query := `UPDATE mechanics SET current_lat = $1, current_lng = $2, updated_at = $3 WHERE id = $4`
	res, err := r.db.ExecContext(ctx, query, lat, lng, time.Now(), id)
	if err != nil {
		return errors.Wrap(err, "update mechanic location")
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return apperrors.Missing("mechanic", id)
	}
	return nil
}
