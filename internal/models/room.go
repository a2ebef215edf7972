package models

import (
	"encoding/json"
	"slices"
	"time"
)

// Room is a row of the room table.
type Room struct {
	ID              ID              `json:"id"`
	Name            string          `json:"name"`
	Location        string          `json:"location,omitempty"`
	Active          bool            `json:"active"`
	Admin           []string        `json:"admin"`
	CreatedAt       Timestamp       `json:"created_at"`
	EventConnection ID              `json:"event_connection,omitempty"`
	ExpirationDate  *Timestamp      `json:"expiration_date,omitempty"`
	AdditionalData  json.RawMessage `json:"additional_data,omitempty"`
	Password        string          `json:"password,omitempty"`
	Creator         string          `json:"creator,omitempty"`
	StudyRoom       ID              `json:"study_room,omitempty"`
	ClassConnection ID              `json:"class_connection,omitempty"`
}

// IsAdmin reports whether userID is listed in the room's admin set.
func (r *Room) IsAdmin(userID string) bool {
	if r == nil || userID == "" {
		return false
	}
	return slices.Contains(r.Admin, userID)
}

// RequiresPassword reports whether the room carries a non-empty password.
func (r *Room) RequiresPassword() bool {
	return r != nil && r.Password != ""
}

// Expiration returns the expiration date or nil for a non-expiring room.
func (r *Room) Expiration() *time.Time {
	if r == nil {
		return nil
	}
	return r.ExpirationDate.Ptr()
}

// RoomPatch is the set of columns a kiosk may update.
type RoomPatch struct {
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

// Event is a row of the events table.
type Event struct {
	ID          ID        `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StartTime   Timestamp `json:"start_time"`
	EndTime     Timestamp `json:"end_time"`
}

// KioskSession is a front-desk check-in from the kiosk_session table.
type KioskSession struct {
	ID               ID        `json:"id"`
	CreatedAt        Timestamp `json:"created_at"`
	UpdatedAt        Timestamp `json:"updated_at"`
	StartTime        Timestamp `json:"start_time"`
	Duration         float64   `json:"duration"`
	FrontdeskCreated bool      `json:"frontdesk_created"`
	RoomID           ID        `json:"room_id"`
	Password         string    `json:"password,omitempty"`
}

// EndTime is the start time plus the session duration in hours.
func (s KioskSession) EndTime() time.Time {
	return s.StartTime.Add(time.Duration(s.Duration * float64(time.Hour)))
}

// User is the signed-in identity. A nil *User is a guest.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Name returns the display name, falling back to "Guest".
func (u *User) Name() string {
	if u == nil || u.DisplayName == "" {
		return "Guest"
	}
	return u.DisplayName
}
