package repository

import (
	"context"
	"time"

	apperrors "github.com/aditya/resq/internal/errors"
	"github.com/aditya/resq/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoMechanicRepository struct {
	collection *mongo.Collection
}

// NewMongoMechanicRepository stores mechanics in the "mechanics" collection of database.
func NewMongoMechanicRepository(client *mongo.Client, database string) MechanicRepository {
	return &mongoMechanicRepository{
		collection: client.Database(database).Collection("mechanics"),
	}
}

func (r *mongoMechanicRepository) Create(ctx context.Context, mechanic *models.Mechanic) error {
	if mechanic.ID == "" {
		mechanic.ID = uuid.New().String()
	}
	mechanic.CreatedAt = time.Now()
	mechanic.UpdatedAt = time.Now()
	if mechanic.Status == "" {
		mechanic.Status = models.MechanicStatusOffline
	}

	_, err := r.collection.InsertOne(ctx, mechanic)
	return errors.Wrap(err, "insert mechanic")
}

func (r *mongoMechanicRepository) GetByID(ctx context.Context, id string) (*models.Mechanic, error) {
	var mechanic models.Mechanic
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&mechanic)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find mechanic")
	}
	return &mechanic, nil
}

func (r *mongoMechanicRepository) List(ctx context.Context) ([]*models.Mechanic, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find mechanics")
	}
	defer cursor.Close(ctx)

	var mechanics []*models.Mechanic
	for cursor.Next(ctx) {
		var mechanic models.Mechanic
		if err := cursor.Decode(&mechanic); err != nil {
			return nil, errors.Wrap(err, "decode mechanic")
		}
		mechanics = append(mechanics, &mechanic)
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, "cursor error")
	}
	return mechanics, nil
}

func (r *mongoMechanicRepository) UpdateStatus(ctx context.Context, id string, status models.MechanicStatus) error {
	update := bson.M{"$set": bson.M{"status": status, "updated_at": time.Now()}}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return errors.Wrap(err, "update mechanic status")
	}
	if res.MatchedCount == 0 {
		return apperrors.Missing("mechanic", id)
	}
	return nil
}

func (r *mongoMechanicRepository) UpdateLocation(ctx context.Context, id string, lat, lng float64) error {
	update := bson.M{"$set": bson.M{"current_lat": lat, "current_lng": lng, "updated_at": time.Now()}}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return errors.Wrap(err, "update mechanic location")
	}
	if res.MatchedCount == 0 {
		return apperrors.Missing("mechanic", id)
	}
	return nil
}
