package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

type MechanicStatus string

// Mechanic status constants
const (
	MechanicStatusAvailable MechanicStatus = "available"
	MechanicStatusBusy      MechanicStatus = "busy"
	MechanicStatusOffline   MechanicStatus = "offline"
)

type ServiceType string

// Service types
const (
	ServiceTowing        ServiceType = "towing"
	ServiceBattery       ServiceType = "battery_service"
	ServiceTireChange    ServiceType = "tire_change"
	ServiceFuelDelivery  ServiceType = "fuel_delivery"
	ServiceLockout       ServiceType = "lockout"
	ServiceGeneralRepair ServiceType = "general_repair"
)

var ServiceTypes = []ServiceType{
	ServiceTowing,
	ServiceBattery,
	ServiceTireChange,
	ServiceFuelDelivery,
	ServiceLockout,
	ServiceGeneralRepair,
}

func IsValidServiceType(st string) bool {
	for _, s := range ServiceTypes {
		if string(s) == st {
			return true
		}
	}
	return false
}

func IsValidMechanicStatus(status string) bool {
	switch MechanicStatus(status) {
	case MechanicStatusAvailable, MechanicStatusBusy, MechanicStatusOffline:
		return true
	}
	return false
}

type Mechanic struct {
	ID              string         `db:"id" json:"id" bson:"_id"`
	Name            string         `db:"name" json:"name" bson:"name"`
	Phone           string         `db:"phone" json:"phone" bson:"phone"`
	Email           *string        `db:"email" json:"email,omitempty" bson:"email,omitempty"`
	Rating          float64        `db:"rating" json:"rating" bson:"rating"`
	TotalReviews    int            `db:"total_reviews" json:"total_reviews" bson:"total_reviews"`
	Specialties     pq.StringArray `db:"specialties" json:"specialties" bson:"specialties"`
	Status          MechanicStatus `db:"status" json:"status" bson:"status"`
	CurrentLng      float64        `db:"current_lng" json:"current_lng" bson:"current_lng"`
	CurrentLat      float64        `db:"current_lat" json:"current_lat" bson:"current_lat"`
	ServiceRadiusKm float64        `db:"service_radius_km" json:"service_radius_km" bson:"service_radius_km"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at" bson:"updated_at"`
}

func (m *Mechanic) Location() Coordinates {
	return Coordinates{Lng: m.CurrentLng, Lat: m.CurrentLat}
}

// HasAnySpecialty reports whether the mechanic offers at least one of tags.
// Comparison ignores case.
func (m *Mechanic) HasAnySpecialty(tags []string) bool {
	for _, want := range tags {
		for _, have := range m.Specialties {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

func (m *Mechanic) Clone() *Mechanic {
	if m == nil {
		return nil
	}
	c := *m
	c.Email = clonePtr(m.Email)
	c.Specialties = append(pq.StringArray(nil), m.Specialties...)
	return &c
}

// Pointers so a zero coordinate is accepted while a missing one is not.
type UpdateMechanicLocationRequest struct {
	Lat *float64 `json:"lat" validate:"required,latitude"`
	Lng *float64 `json:"lng" validate:"required,longitude"`
}

type MechanicResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Phone       string         `json:"phone"`
	Rating      float64        `json:"rating"`
	Specialties []string       `json:"specialties"`
	Status      MechanicStatus `json:"status"`
	Location    Coordinates    `json:"current_location"`
	DistanceMi  *float64       `json:"distance_miles,omitempty"`
}

// MechanicWithDistance is a mechanic annotated with its distance from a reference point.
type MechanicWithDistance struct {
	Mechanic *Mechanic
	// Distance in miles; nil when no reference point is known.
	Distance *float64
}

func (m *Mechanic) ToResponse() *MechanicResponse {
	return &MechanicResponse{
		ID:          m.ID,
		Name:        m.Name,
		Phone:       m.Phone,
		Rating:      m.Rating,
		Specialties: []string(m.Specialties),
		Status:      m.Status,
		Location:    m.Location(),
	}
}
