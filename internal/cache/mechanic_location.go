package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	mechanicLocationGeoKey    = "mechanics:locations"
	mechanicLocationKeyPrefix = "mechanic:location:"
	locationTTL               = 5 * time.Minute

	// LocationUpdatesChannel carries every accepted mechanic position as JSON.
	LocationUpdatesChannel = "mechanic:location:updates"
)

type MechanicLocation struct {
	MechanicID string  `json:"mechanic_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	UpdatedAt  int64   `json:"updated_at"`
}

type MechanicLocationCache interface {
	UpdateLocation(ctx context.Context, mechanicID string, lat, lng float64) (*MechanicLocation, error)
	GetLocation(ctx context.Context, mechanicID string) (*MechanicLocation, error)
	GetNearby(ctx context.Context, lat, lng, radiusKm float64) ([]MechanicWithDistance, error)
	RemoveMechanic(ctx context.Context, mechanicID string) error
	// SubscribeUpdates streams decoded updates until ctx is cancelled.
	SubscribeUpdates(ctx context.Context) (<-chan MechanicLocation, error)
}

type MechanicWithDistance struct {
	MechanicID string
	DistanceKm float64
}

type mechanicLocationCache struct {
	redis *redis.Client
	now   func() time.Time
}

func NewMechanicLocationCache(redisClient *redis.Client) MechanicLocationCache {
	return &mechanicLocationCache{redis: redisClient, now: time.Now}
}

func (c *mechanicLocationCache) UpdateLocation(ctx context.Context, mechanicID string, lat, lng float64) (*MechanicLocation, error) {
	if err := c.redis.GeoAdd(ctx, mechanicLocationGeoKey, &redis.GeoLocation{
		Name:      mechanicID,
		Longitude: lng,
		Latitude:  lat,
	}).Err(); err != nil {
		return nil, errors.Wrap(err, "geoadd mechanic")
	}

	loc := MechanicLocation{
		MechanicID: mechanicID,
		Lat:        lat,
		Lng:        lng,
		UpdatedAt:  c.now().Unix(),
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return nil, err
	}

	pipe := c.redis.TxPipeline()
	pipe.Set(ctx, mechanicLocationKeyPrefix+mechanicID, data, locationTTL)
	pipe.Publish(ctx, LocationUpdatesChannel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "store mechanic location")
	}
	return &loc, nil
}

func (c *mechanicLocationCache) GetLocation(ctx context.Context, mechanicID string) (*MechanicLocation, error) {
	data, err := c.redis.Get(ctx, mechanicLocationKeyPrefix+mechanicID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get mechanic location")
	}

	var loc MechanicLocation
	if err := json.Unmarshal(data, &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

func (c *mechanicLocationCache) GetNearby(ctx context.Context, lat, lng, radiusKm float64) ([]MechanicWithDistance, error) {
	locations, err := c.redis.GeoRadius(ctx, mechanicLocationGeoKey, lng, lat, &redis.GeoRadiusQuery{
		Radius:   radiusKm,
		Unit:     "km",
		WithDist: true,
		Count:    50,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "georadius mechanics")
	}

	result := make([]MechanicWithDistance, 0, len(locations))
	for _, loc := range locations {
		result = append(result, MechanicWithDistance{MechanicID: loc.Name, DistanceKm: loc.Dist})
	}
	return result, nil
}

func (c *mechanicLocationCache) RemoveMechanic(ctx context.Context, mechanicID string) error {
	pipe := c.redis.TxPipeline()
	pipe.ZRem(ctx, mechanicLocationGeoKey, mechanicID)
	pipe.Del(ctx, mechanicLocationKeyPrefix+mechanicID)
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "remove mechanic location")
}

func (c *mechanicLocationCache) SubscribeUpdates(ctx context.Context) (<-chan MechanicLocation, error) {
	pubsub := c.redis.Subscribe(ctx, LocationUpdatesChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Wrap(err, "subscribe mechanic locations")
	}

	out := make(chan MechanicLocation, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var loc MechanicLocation
				if err := json.Unmarshal([]byte(msg.Payload), &loc); err != nil {
					continue
				}
				select {
				case out <- loc:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
