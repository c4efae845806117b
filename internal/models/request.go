package models

import (
	"time"
)

type RequestStatus string

// Request status constants
const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusMatched   RequestStatus = "matched"
	RequestStatusEnRoute   RequestStatus = "en_route"
	RequestStatusArrived   RequestStatus = "arrived"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusCancelled RequestStatus = "cancelled"
)

// RequestLifecycle is the forward progression a request follows when nothing cancels it.
var RequestLifecycle = []RequestStatus{
	RequestStatusPending,
	RequestStatusMatched,
	RequestStatusEnRoute,
	RequestStatusArrived,
	RequestStatusCompleted,
}

// Valid request state transitions
var ValidRequestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusPending:   {RequestStatusMatched, RequestStatusCancelled},
	RequestStatusMatched:   {RequestStatusEnRoute, RequestStatusCancelled},
	RequestStatusEnRoute:   {RequestStatusArrived, RequestStatusCancelled},
	RequestStatusArrived:   {RequestStatusCompleted, RequestStatusCancelled},
	RequestStatusCompleted: {},
	RequestStatusCancelled: {},
}

func IsValidRequestStatus(s RequestStatus) bool {
	_, ok := ValidRequestTransitions[s]
	return ok
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusCancelled
}

// RequiresMechanic reports whether a request in status s must reference a mechanic.
func (s RequestStatus) RequiresMechanic() bool {
	switch s {
	case RequestStatusMatched, RequestStatusEnRoute, RequestStatusArrived, RequestStatusCompleted:
		return true
	}
	return false
}

// Next returns the status that follows s in the forward lifecycle, if any.
func (s RequestStatus) Next() (RequestStatus, bool) {
	for i, st := range RequestLifecycle {
		if st == s && i+1 < len(RequestLifecycle) {
			return RequestLifecycle[i+1], true
		}
	}
	return "", false
}

// Coordinates is a longitude/latitude pair.
type Coordinates struct {
	Lng float64 `json:"lng" validate:"longitude"`
	Lat float64 `json:"lat" validate:"latitude"`
}

type EmergencyRequest struct {
	ID                   string        `db:"id" json:"id"`
	Location             string        `db:"location" json:"location"`
	Lng                  *float64      `db:"lng" json:"-"`
	Lat                  *float64      `db:"lat" json:"-"`
	Phone                string        `db:"phone" json:"phone"`
	Description          *string       `db:"description" json:"description,omitempty"`
	Status               RequestStatus `db:"status" json:"status"`
	ServiceType          *ServiceType  `db:"service_type" json:"service_type,omitempty"`
	MechanicID           *string       `db:"mechanic_id" json:"mechanic_id,omitempty"`
	UserID               *string       `db:"user_id" json:"user_id,omitempty"`
	EstimatedArrivalTime *time.Time    `db:"estimated_arrival_time" json:"estimated_arrival_time,omitempty"`
	ActualArrivalTime    *time.Time    `db:"actual_arrival_time" json:"actual_arrival_time,omitempty"`
	CompletionTime       *time.Time    `db:"completion_time" json:"completion_time,omitempty"`
	Rating               *int          `db:"rating" json:"rating,omitempty"`
	Review               *string       `db:"review" json:"review,omitempty"`
	CreatedAt            time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time     `db:"updated_at" json:"updated_at"`
}

// Coordinates returns the request's position, or nil when geolocation was unavailable.
func (r *EmergencyRequest) Coordinates() *Coordinates {
	if r.Lng == nil || r.Lat == nil {
		return nil
	}
	return &Coordinates{Lng: *r.Lng, Lat: *r.Lat}
}

func (r *EmergencyRequest) SetCoordinates(c *Coordinates) {
	if c == nil {
		r.Lng, r.Lat = nil, nil
		return
	}
	lng, lat := c.Lng, c.Lat
	r.Lng, r.Lat = &lng, &lat
}

// Clone returns a deep copy so callers never share pointers with the store.
func (r *EmergencyRequest) Clone() *EmergencyRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Lng = clonePtr(r.Lng)
	c.Lat = clonePtr(r.Lat)
	c.Description = clonePtr(r.Description)
	c.ServiceType = clonePtr(r.ServiceType)
	c.MechanicID = clonePtr(r.MechanicID)
	c.UserID = clonePtr(r.UserID)
	c.EstimatedArrivalTime = clonePtr(r.EstimatedArrivalTime)
	c.ActualArrivalTime = clonePtr(r.ActualArrivalTime)
	c.CompletionTime = clonePtr(r.CompletionTime)
	c.Rating = clonePtr(r.Rating)
	c.Review = clonePtr(r.Review)
	return &c
}

// CanTransitionTo checks if a request can transition to a new status
func (r *EmergencyRequest) CanTransitionTo(newStatus RequestStatus) bool {
	validNextStates, exists := ValidRequestTransitions[r.Status]
	if !exists {
		return false
	}

	for _, state := range validNextStates {
		if state == newStatus {
			return true
		}
	}
	return false
}

// IsActive returns true if the request is not in a terminal state
func (r *EmergencyRequest) IsActive() bool {
	return !r.Status.IsTerminal()
}

// CreateRequestInput is what the store needs to create a record. It is already
// validated and normalized by the submission flow.
type CreateRequestInput struct {
	Location    string
	Phone       string
	Description *string
	Coordinates *Coordinates
	ServiceType *ServiceType
	UserID      *string
}

// TransitionExtra carries fields written atomically with a status change.
type TransitionExtra struct {
	MechanicID           *string
	EstimatedArrivalTime *time.Time
	Rating               *int
	Review               *string
}

// SubmitRequestPayload is the body of POST /v1/requests.
type SubmitRequestPayload struct {
	Location    string       `json:"location"`
	Phone       string       `json:"phone"`
	Description string       `json:"description,omitempty"`
	ServiceType string       `json:"service_type,omitempty"`
	MechanicID  string       `json:"mechanic_id,omitempty"`
	UserID      string       `json:"user_id,omitempty"`
	SessionID   string       `json:"session_id,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

type TransitionRequestPayload struct {
	Status     RequestStatus `json:"status" validate:"required"`
	MechanicID string        `json:"mechanic_id,omitempty"`
}

type SelectMarkerPayload struct {
	MarkerID string `json:"marker_id" validate:"required"`
}

type ReviewRequestPayload struct {
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
	Review string `json:"review" validate:"max=1000"`
}

type RequestResponse struct {
	ID                   string            `json:"id"`
	Location             string            `json:"location"`
	Coordinates          *Coordinates      `json:"coordinates,omitempty"`
	Phone                string            `json:"phone"`
	Description          *string           `json:"description,omitempty"`
	Status               RequestStatus     `json:"status"`
	ServiceType          *ServiceType      `json:"service_type,omitempty"`
	MechanicID           *string           `json:"mechanic_id,omitempty"`
	Mechanic             *MechanicResponse `json:"mechanic,omitempty"`
	EstimatedArrivalTime *time.Time        `json:"estimated_arrival_time,omitempty"`
	ActualArrivalTime    *time.Time        `json:"actual_arrival_time,omitempty"`
	CompletionTime       *time.Time        `json:"completion_time,omitempty"`
	Rating               *int              `json:"rating,omitempty"`
	Review               *string           `json:"review,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

func (r *EmergencyRequest) ToResponse() *RequestResponse {
	return &RequestResponse{
		ID:                   r.ID,
		Location:             r.Location,
		Coordinates:          r.Coordinates(),
		Phone:                r.Phone,
		Description:          r.Description,
		Status:               r.Status,
		ServiceType:          r.ServiceType,
		MechanicID:           r.MechanicID,
		EstimatedArrivalTime: r.EstimatedArrivalTime,
		ActualArrivalTime:    r.ActualArrivalTime,
		CompletionTime:       r.CompletionTime,
		Rating:               r.Rating,
		Review:               r.Review,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
