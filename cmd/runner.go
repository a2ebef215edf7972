package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mesakiosk/internal/repositories"
	"github.com/desertthunder/mesakiosk/internal/room"
	"github.com/desertthunder/mesakiosk/internal/services"
	"github.com/desertthunder/mesakiosk/internal/shared"
	"github.com/desertthunder/mesakiosk/internal/supabase"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	db         *sql.DB
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, kioskCommand, roomsCommand, roomCommand, spotifyCommand, policyCommand, historyCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// load reads the config file named by --config, overlays the environment and sets the log level.
// A missing file keeps the defaults.
func (r *Runner) load(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")
	config := shared.DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		if config, err = shared.LoadConfig(path); err != nil {
			return ctx, err
		}
	} else {
		r.logger.Debug("config file not found, using defaults", "path", path)
	}

	if err := shared.ApplyEnv(config); err != nil {
		return ctx, err
	}

	level := shared.ParseLogLevel(config.Log.Level)
	if cmd.Bool("debug") {
		level = log.DebugLevel
	}
	shared.SetLogLevel(r.logger, level)

	r.config = config
	r.configPath = path
	return ctx, nil
}

// SetLogger replaces the logger, e.g. with a file logger while the TUI owns the terminal.
func (r *Runner) SetLogger(l *log.Logger) {
	shared.SetLogLevel(l, r.logger.GetLevel())
	r.logger = l
}

// database opens the sqlite database once and migrates it.
func (r *Runner) database() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}
	db, err := shared.OpenMigrated(r.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	r.db = db
	return db, nil
}

// Close releases the database handle.
func (r *Runner) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

func (r *Runner) supabase() (*supabase.Client, error) {
	if !r.config.Supabase.Configured() {
		return nil, fmt.Errorf("%w: set supabase.url and supabase.anon_key in %s", shared.ErrMissingConfig, r.configPath)
	}
	return supabase.New(supabase.FromConfig(r.config.Supabase, r.logger))
}

// roomID resolves the room to mount: the --room flag, then the config, then the selection saved by
// `mesa rooms select`.
func (r *Runner) roomID(cmd *cli.Command) string {
	if id := cmd.String("room"); id != "" {
		return id
	}
	if r.config.Kiosk.RoomID != "" {
		return r.config.Kiosk.RoomID
	}
	db, err := r.database()
	if err != nil {
		r.logger.Warn("failed to read saved room", "error", err)
		return ""
	}
	return repositories.NewPreferenceRepository(db).Lookup(repositories.KeySelectedRoom, "")
}

// openRoom mounts roomID without realtime updates, for one-shot commands.
func (r *Runner) openRoom(ctx context.Context, cmd *cli.Command) (*room.Session, error) {
	id := r.roomID(cmd)
	if id == "" {
		return nil, fmt.Errorf("%w: no room selected (use --room or `mesa rooms select`)", shared.ErrMissingArgument)
	}
	client, err := r.supabase()
	if err != nil {
		return nil, err
	}
	session, err := room.NewSession(room.Options{Store: client, Identity: client, Logger: r.logger})
	if err != nil {
		return nil, err
	}
	if err := session.Open(ctx, id); err != nil {
		session.Close(ctx)
		return nil, err
	}
	return session, nil
}

func spotifyConfigured(c shared.SpotifyConfig) bool {
	return c.ClientID != "" && c.ClientSecret != "" && !strings.HasPrefix(c.ClientID, "your_")
}

func (r *Runner) spotifyAuth() (*services.SpotifyAuth, error) {
	creds := r.config.Credentials.Spotify
	if !spotifyConfigured(creds) {
		return nil, fmt.Errorf("%w: set credentials.spotify client_id and client_secret in %s", shared.ErrMissingCredentials, r.configPath)
	}
	db, err := r.database()
	if err != nil {
		return nil, err
	}
	return services.NewSpotifyAuth(services.SpotifyAuthOptions{
		Credentials: creds,
		Store:       repositories.NewTokenRepository(db),
		Logger:      r.logger,
	})
}

func (r *Runner) spotifyService(tokens services.TokenProvider) (*services.SpotifyService, error) {
	return services.NewSpotifyService(services.SpotifyOptions{
		Tokens:            tokens,
		HTTPClient:        r.httpClient,
		RequestsPerSecond: r.config.Playback.RequestsPerSecond,
		Burst:             r.config.Playback.Burst,
		Logger:            r.logger,
	})
}

// spotify builds the token provider and the client for one-shot commands. Signed-out sessions are
// reported as [shared.ErrNotAuthenticated].
func (r *Runner) spotify(ctx context.Context) (*services.SpotifyService, error) {
	auth, err := r.spotifyAuth()
	if err != nil {
		return nil, err
	}
	tok, err := auth.Token(ctx)
	if err != nil {
		return nil, err
	}
	if tok == "" {
		return nil, fmt.Errorf("%w: run `mesa spotify auth` first", shared.ErrNotAuthenticated)
	}
	return r.spotifyService(auth)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}

// isUsageError reports whether err came from bad input rather than a failed operation.
func isUsageError(err error) bool {
	return errors.Is(err, shared.ErrMissingArgument) || errors.Is(err, shared.ErrInvalidArgument)
}
