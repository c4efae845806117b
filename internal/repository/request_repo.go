package repository

import (
	"context"
	"database/sql"

	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// UpdateFunc mutates a request in place. Returning an error aborts the write.
type UpdateFunc func(req *models.EmergencyRequest) error

type RequestRepository interface {
	Create(ctx context.Context, req *models.EmergencyRequest) error
	GetByID(ctx context.Context, id string) (*models.EmergencyRequest, error)
	// Update loads the request, applies fn and persists the result atomically.
	Update(ctx context.Context, id string, fn UpdateFunc) (*models.EmergencyRequest, error)
}

type requestRepository struct {
	db *sqlx.DB
}

func NewRequestRepository(db *sqlx.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *models.EmergencyRequest) error {
	query := `
		INSERT INTO emergency_requests (id, location, lng, lat, phone, description, status,
			service_type, mechanic_id, user_id, created_at, updated_at)
		VALUES (:id, :location, :lng, :lat, :phone, :description, :status,
			:service_type, :mechanic_id, :user_id, :created_at, :updated_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, req)
	return errors.Wrap(err, "insert emergency request")
}

func (r *requestRepository) GetByID(ctx context.Context, id string) (*models.EmergencyRequest, error) {
	var req models.EmergencyRequest
	query := `SELECT * FROM emergency_requests WHERE id = $1`
	err := r.db.GetContext(ctx, &req, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get emergency request")
	}
	return &req, nil
}

func (r *requestRepository) Update(ctx context.Context, id string, fn UpdateFunc) (*models.EmergencyRequest, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	req, err := r.getByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, apperrors.Missing("request", id)
	}

	if err := fn(req); err != nil {
		return nil, err
	}

	query := `
		UPDATE emergency_requests
		SET status = :status, mechanic_id = :mechanic_id, estimated_arrival_time = :estimated_arrival_time,
			actual_arrival_time = :actual_arrival_time, completion_time = :completion_time,
			rating = :rating, review = :review, updated_at = :updated_at
		WHERE id = :id
	`
	if _, err := tx.NamedExecContext(ctx, query, req); err != nil {
		return nil, errors.Wrap(err, "update emergency request")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit transaction")
	}
	return req, nil
}

// getByIDForUpdate locks the row until the transaction ends
func (r *requestRepository) getByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.EmergencyRequest, error) {
	var req models.EmergencyRequest
	query := `SELECT * FROM emergency_requests WHERE id = $1 FOR UPDATE`
	err := tx.GetContext(ctx, &req, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock emergency request")
	}
	return &req, nil
}
