package models

import (
	"time"

	"github.com/google/uuid"
)

type Center struct {
	CenterID  uuid.UUID
	Name      string
	Address   string
	City      string
	Latitude  *float64
	Longitude *float64
	Public    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ContainerType struct {
	TypeID      uuid.UUID
	Name        string
	Description string
	Color       string
	CreatedAt   time.Time
}

type Waste struct {
	WasteID   uuid.UUID
	Name      string
	Category  string
	CreatedAt time.Time
}

type Container struct {
	ContainerID    uuid.UUID
	CenterID       uuid.UUID
	TypeID         uuid.UUID
	WasteID        *uuid.UUID
	Label          string
	State          string
	Active         bool
	StateChangedAt time.Time
	LastEmptiedAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type StatusEvent struct {
	EventID     uuid.UUID
	ContainerID uuid.UUID
	CenterID    uuid.UUID
	State       string
	PrevState   string
	Source      string
	Confidence  float64
	Comment     string
	ActorUserID *uuid.UUID
	OccurredAt  time.Time
}

type User struct {
	UserID       uuid.UUID
	Email        string
	PasswordHash string
	DisplayName  string
	Role         string
	Active       bool
	CenterID     *uuid.UUID
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

type AuditLog struct {
	AuditID      uuid.UUID
	OccurredAt   time.Time
	ActorUserID  *uuid.UUID
	ActorEmail   string
	Action       string
	ResourceType *string
	ResourceID   *string
	RequestID    string
	Method       string
	Path         string
	StatusCode   int
	DurationMS   int64
	ClientIP     string
	UserAgent    string
	Details      []byte
}
