package service

import (
	"testing"
	"time"

	"github.com/aditya/resq/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTravelMinutes(t *testing.T) {
	tests := []struct {
		name  string
		miles float64
		want  int
	}{
		{name: "next door uses minimum", miles: 0.1, want: 5},
		{name: "zero distance", miles: 0, want: 5},
		{name: "ten miles", miles: 10, want: 51}, // 13 road miles at 15.5 mph
		{name: "two miles", miles: 2, want: 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTravelMinutes(tt.miles))
		})
	}
}

func TestEstimateArrival(t *testing.T) {
	m := mechanic("m", models.MechanicStatusAvailable, 4.5, 40.7128, -74.006)

	req := &models.EmergencyRequest{}
	assert.Nil(t, EstimateArrival(req, m, testStart))

	req.SetCoordinates(&models.Coordinates{Lat: 40.7128, Lng: -74.006})
	eta := EstimateArrival(req, m, testStart)
	require.NotNil(t, eta)
	assert.Equal(t, testStart.Add(5*time.Minute), *eta)
}
