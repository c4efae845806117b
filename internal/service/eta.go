package service

import (
	"math"
	"time"

	"github.com/aditya/resq/internal/models"
)

const (
	// roadFactor turns straight-line distance into an approximate driving distance.
	roadFactor = 1.3
	// cityMPH is the average speed assumed in city traffic.
	cityMPH          = 15.5
	minTravelMinutes = 5
)

// EstimateTravelMinutes estimates how long a mechanic needs to drive straightLineMiles.
func EstimateTravelMinutes(straightLineMiles float64) int {
	hours := straightLineMiles * roadFactor / cityMPH
	mins := int(math.Ceil(hours * 60))
	if mins < minTravelMinutes {
		mins = minTravelMinutes
	}
	return mins
}

// EstimateArrival returns when mechanic should reach the request, or nil when
// the request has no coordinates.
func EstimateArrival(req *models.EmergencyRequest, mechanic *models.Mechanic, now time.Time) *time.Time {
	dist := DistanceMiles(req.Coordinates(), mechanic)
	if dist == nil {
		return nil
	}
	eta := now.Add(time.Duration(EstimateTravelMinutes(*dist)) * time.Minute).UTC()
	return &eta
}
