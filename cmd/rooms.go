package main

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/desertthunder/mesakiosk/internal/formatter"
	"github.com/desertthunder/mesakiosk/internal/models"
	"github.com/desertthunder/mesakiosk/internal/repositories"
	"github.com/desertthunder/mesakiosk/internal/room"
	"github.com/desertthunder/mesakiosk/internal/shared"
	"github.com/mdp/qrterminal/v3"
	"github.com/urfave/cli/v3"
)

const timeLayout = "Jan 2 15:04"

// RoomsList lists the front desk check-ins.
func (r *Runner) RoomsList(ctx context.Context, cmd *cli.Command) error {
	client, err := r.supabase()
	if err != nil {
		return err
	}

	sessions, err := client.KioskSessions(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(sessions, cmd.Bool("pretty"))
	}

	if len(sessions) == 0 {
		r.writePlain("No kiosk sessions found\n")
		return nil
	}

	selected := r.roomID(cmd)
	r.writePlain("Found %d session(s):\n\n", len(sessions))
	for i, s := range sessions {
		marker := " "
		if selected != "" && s.RoomID.String() == selected {
			marker = "*"
		}
		source := "self check-in"
		if s.FrontdeskCreated {
			source = "front desk"
		}
		r.writePlain("%s %d. room %s (%s)\n", marker, i+1, s.RoomID, source)
		r.writePlain("     %s to %s\n", s.StartTime.Local().Format(timeLayout), s.EndTime().Local().Format(timeLayout))
		r.writePlain("     Session ID: %s\n", s.ID)
	}
	return nil
}

// RoomsSelect saves the room the kiosk mounts. When the backend is configured the room is
// looked up first so a typo is caught here instead of at startup.
func (r *Runner) RoomsSelect(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("room-id")
	if id == "" {
		return fmt.Errorf("%w: room ID is required", shared.ErrMissingArgument)
	}

	name := id
	if r.config.Supabase.Configured() {
		client, err := r.supabase()
		if err != nil {
			return err
		}
		rec, err := client.Room(ctx, id)
		if err != nil {
			return err
		}
		name = rec.Name
	}

	db, err := r.database()
	if err != nil {
		return err
	}
	if err := repositories.NewPreferenceRepository(db).Set(repositories.KeySelectedRoom, id); err != nil {
		return err
	}
	r.logger.Info("room selected", "room", id)
	r.writePlain("✓ Selected %s\n", name)
	return nil
}

// RoomsClear forgets the saved room.
func (r *Runner) RoomsClear(ctx context.Context, cmd *cli.Command) error {
	db, err := r.database()
	if err != nil {
		return err
	}
	if err := repositories.NewPreferenceRepository(db).Delete(repositories.KeySelectedRoom); err != nil {
		return err
	}
	r.writePlain("✓ Room selection cleared\n")
	return nil
}

type roomSummary struct {
	Room             *models.Room  `json:"room"`
	Event            *models.Event `json:"event,omitempty"`
	Status           string        `json:"status"`
	RequiresPassword bool          `json:"requires_password"`
	IsAdmin          bool          `json:"is_admin"`
	Error            string        `json:"error,omitempty"`
}

// RoomShow prints the room, its linked event and its expiration status.
func (r *Runner) RoomShow(ctx context.Context, cmd *cli.Command) error {
	session, err := r.openRoom(ctx, cmd)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	st := session.State()
	if cmd.Bool("json") {
		summary := roomSummary{
			Room:             st.Room,
			Event:            st.Event,
			Status:           st.ExpirationStatus.String(),
			RequiresPassword: st.RequiresPassword,
			IsAdmin:          st.IsAdmin,
			Error:            st.Error,
		}
		if summary.Room != nil {
			rec := *summary.Room
			rec.Password = ""
			summary.Room = &rec
		}
		return r.writeJSON(summary, cmd.Bool("pretty"))
	}

	r.writePlainHeader(st.Room.Name)
	r.writePlain("ID: %s\n", st.Room.ID)
	if st.Room.Location != "" {
		r.writePlain("Location: %s\n", st.Room.Location)
	}
	if st.Event != nil {
		r.writePlain("Event: %s\n", st.Event.Name)
	}
	r.writePlain("Expires: %s (%s)\n", formatter.FormatExpiration(st.Room.Expiration(), time.Now()), st.ExpirationStatus)
	r.writePlain("Password: %v\n", st.RequiresPassword)
	r.writePlain("Signed in as: %s (admin: %v)\n", session.User().Name(), st.IsAdmin)
	if st.Error != "" {
		r.writePlainln("⚠ %s", st.Error)
	}

	if st.ExpirationStatus == room.Expired {
		return fmt.Errorf("%w: %s", shared.ErrRoomExpired, st.RoomID)
	}
	return nil
}

// RoomExtend moves the expiration to now plus --hours.
func (r *Runner) RoomExtend(ctx context.Context, cmd *cli.Command) error {
	hours := cmd.Int("hours")
	if hours <= 0 {
		return fmt.Errorf("%w: --hours must be positive", shared.ErrInvalidArgument)
	}

	session, err := r.openRoom(ctx, cmd)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	if err := session.ExtendExpiration(ctx, hours); err != nil {
		if errors.Is(err, room.ErrNotAdmin) {
			return fmt.Errorf("%w: %v (set supabase.access_token to an admin's token)", shared.ErrNotAuthenticated, err)
		}
		return err
	}

	st := session.State()
	r.writePlain("✓ %s now expires %s\n", st.Room.Name, formatter.FormatExpiration(st.Room.Expiration(), time.Now()))
	return nil
}

type roomFile struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// RoomFiles lists the files uploaded to the room with their public URLs.
func (r *Runner) RoomFiles(ctx context.Context, cmd *cli.Command) error {
	client, err := r.supabase()
	if err != nil {
		return err
	}
	session, err := r.openRoom(ctx, cmd)
	if err != nil {
		return err
	}
	defer session.Close(ctx)

	objs, err := session.Files(ctx)
	if err != nil {
		return err
	}

	id := session.State().RoomID
	files := make([]roomFile, 0, len(objs))
	for _, o := range objs {
		files = append(files, roomFile{
			Name: o.Name,
			Kind: o.Kind().String(),
			Size: o.Metadata.Size,
			URL:  client.PublicURL(room.FilesBucket, id, o.Name),
		})
	}

	if cmd.Bool("json") {
		return r.writeJSON(files, cmd.Bool("pretty"))
	}

	if len(files) == 0 {
		r.writePlain("No files uploaded to this room\n")
		return nil
	}

	r.writePlain("Found %d file(s):\n\n", len(files))
	for i, f := range files {
		r.writePlain("%d. %s [%s, %s]\n", i+1, path.Base(f.Name), f.Kind, formatter.FormatFileSize(f.Size))
		r.writePlain("   %s\n", f.URL)
	}
	return nil
}

// RoomQR prints a QR code of the room id for phones to scan.
func (r *Runner) RoomQR(ctx context.Context, cmd *cli.Command) error {
	id := r.roomID(cmd)
	if id == "" {
		return fmt.Errorf("%w: no room selected (use --room or `mesa rooms select`)", shared.ErrMissingArgument)
	}
	qrterminal.GenerateHalfBlock(id, qrterminal.L, r.output)
	r.writePlain("%s\n", id)
	return nil
}
