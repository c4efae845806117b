//go:build ignore

package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/aditya/resq/internal/cache"
	"github.com/aditya/resq/internal/config"
	"github.com/aditya/resq/internal/database"
	"github.com/aditya/resq/internal/logger"
	"github.com/aditya/resq/internal/models"
	"github.com/aditya/resq/internal/repository"
)

// Lower Manhattan
const (
	baseLat = 40.7128
	baseLng = -74.0060
)

var (
	firstNames = []string{"John", "Sarah", "Mike", "Ana", "Luis", "Priya", "Tom", "Grace", "Omar", "Kate"}
	lastNames  = []string{"Smith", "Johnson", "Wilson", "Garcia", "Chen", "Patel", "Brown", "Lee", "Khan", "Miller"}
	skills     = []string{"Towing", "Battery Jump", "Tire Service", "Lockout", "Fuel Delivery", "Electrical", "Diagnostics", "Emergency Repair"}
	statuses   = []models.MechanicStatus{models.MechanicStatusAvailable, models.MechanicStatusAvailable, models.MechanicStatusBusy, models.MechanicStatusOffline}
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, true)
	if err != nil {
		slog.Error("failed to build logger", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var repo repository.MechanicRepository
	switch cfg.MechanicStore {
	case config.StorePostgres:
		db, err := database.NewPostgres(cfg.DatabaseURL, cfg.DBMaxConnections, cfg.DBMaxIdleConnections)
		if err != nil {
			log.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			log.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		repo = repository.NewMechanicRepository(db.DB)
	case config.StoreMongo:
		mongoDB, err := database.NewMongo(cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			log.Error("failed to connect to MongoDB", "error", err)
			os.Exit(1)
		}
		defer mongoDB.Close()
		repo = repository.NewMongoMechanicRepository(mongoDB.Client, mongoDB.Database)
	default:
		log.Error("MECHANIC_STORE must be postgres or mongo to seed", "store", cfg.MechanicStore)
		os.Exit(1)
	}

	var locations cache.MechanicLocationCache
	if cfg.RedisURL != "" {
		redisDB, err := database.NewRedis(cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			log.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisDB.Close()
		locations = cache.NewMechanicLocationCache(redisDB.Client)
	}

	now := time.Now()
	mechanics := repository.DemoMechanics(now)
	for i := 0; i < 30; i++ {
		mechanics = append(mechanics, &models.Mechanic{
			ID:              fmt.Sprintf("mech-%03d", i+100),
			Name:            fmt.Sprintf("%s %s", firstNames[rand.Intn(len(firstNames))], lastNames[rand.Intn(len(lastNames))]),
			Phone:           fmt.Sprintf("555-%03d-%04d", rand.Intn(1000), rand.Intn(10000)),
			Rating:          3.5 + rand.Float64()*1.5,
			Specialties:     pick(skills, 1+rand.Intn(3)),
			Status:          statuses[rand.Intn(len(statuses))],
			CurrentLat:      baseLat + (rand.Float64()-0.5)*0.2, // +/- 0.1 degrees (~7 miles)
			CurrentLng:      baseLng + (rand.Float64()-0.5)*0.2,
			ServiceRadiusKm: 10 + float64(rand.Intn(20)),
		})
	}

	created, err := repository.SeedMechanics(ctx, repo, mechanics)
	if err != nil {
		log.Error("seeding stopped", "error", err, "created", created)
		os.Exit(1)
	}

	if locations != nil {
		for _, m := range mechanics {
			if m.Status == models.MechanicStatusOffline {
				continue
			}
			if _, err := locations.UpdateLocation(ctx, m.ID, m.CurrentLat, m.CurrentLng); err != nil {
				log.Warn("failed to cache location", "mechanic_id", m.ID, "error", err)
			}
		}
	}

	log.Info("seed complete", "mechanics_created", created, "total", len(mechanics), "store", cfg.MechanicStore)
}

func pick(from []string, n int) []string {
	idx := rand.Perm(len(from))[:n]
	out := make([]string, 0, n)
	for _, i := range idx {
		out = append(out, from[i])
	}
	return out
}
