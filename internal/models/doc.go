// Package models defines the records exchanged with the MESA backend and the local store.
//
// Backend records mirror the PostgREST row shapes:
//   - [Room] : a bookable room with password, admins and expiration
//   - [Event] : the event a room is linked to through event_connection
//   - [KioskSession] : front-desk check-ins used for room selection
//   - [StorageObject] : one entry of a storage bucket listing
//   - [User] : the signed-in identity
//
// Realtime payloads ([Presence], [PresenceState], [Message], [Change]) are shared by the
// realtime client and the room session so neither has to import the other.
//
// Local records ([Visit]) are persisted by the repositories package.
package models
