// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func roomFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "room",
		Aliases: []string{"r"},
		Usage:   "Room ID (defaults to kiosk.room_id or the saved selection)",
	}
}

func jsonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print output",
			Value: true,
		},
	}
}

func deviceFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "device",
		Aliases: []string{"d"},
		Usage:   "Device ID (defaults to the active device)",
	}
}

// setupCommand handles setup operations for the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create the config file if missing, then initialize the database and run migrations",
		Action: r.Setup,
	}
}

// kioskCommand starts the kiosk: browser, room, playback and the terminal chrome.
func kioskCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"kiosk", "ui"},
		Usage:   "Launch the kiosk",
		Flags: []cli.Flag{
			roomFlag(),
			&cli.StringFlag{
				Name:  "url",
				Usage: "Page opened in the first tab (empty opens the dashboard)",
			},
			&cli.BoolFlag{
				Name:  "headless",
				Usage: "Run Chrome without a window",
			},
			&cli.BoolFlag{
				Name:  "no-playback",
				Usage: "Disable Spotify playback",
			},
		},
		Action: r.Kiosk,
	}
}

// roomsCommand lists and selects front desk check-ins.
func roomsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "rooms",
		Usage: "Front desk room sessions",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List kiosk sessions created at the front desk",
				Flags:  jsonFlags(),
				Action: r.RoomsList,
			},
			{
				Name:  "select",
				Usage: "Save the room the kiosk mounts",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "room-id"},
				},
				Action: r.RoomsSelect,
			},
			{
				Name:   "clear",
				Usage:  "Forget the saved room",
				Action: r.RoomsClear,
			},
		},
	}
}

// roomCommand operates on the mounted room.
func roomCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "room",
		Usage: "Inspect and manage the selected room",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the room, its status and access requirements",
				Flags:  append([]cli.Flag{roomFlag()}, jsonFlags()...),
				Action: r.RoomShow,
			},
			{
				Name:  "extend",
				Usage: "Move the room's expiration to now plus the given hours (admins only)",
				Flags: []cli.Flag{
					roomFlag(),
					&cli.IntFlag{
						Name:  "hours",
						Usage: "Hours from now",
						Value: 1,
					},
				},
				Action: r.RoomExtend,
			},
			{
				Name:   "files",
				Usage:  "List files uploaded to the room",
				Flags:  append([]cli.Flag{roomFlag()}, jsonFlags()...),
				Action: r.RoomFiles,
			},
			{
				Name:   "qr",
				Usage:  "Print a QR code for the room",
				Flags:  []cli.Flag{roomFlag()},
				Action: r.RoomQR,
			},
		},
	}
}

// spotifyCommand handles Spotify operations
func spotifyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "spotify",
		Aliases: []string{"spot"},
		Usage:   "Spotify account and playback control",
		Commands: []*cli.Command{
			{
				Name:   "auth",
				Usage:  "Authenticate with Spotify using OAuth2",
				Action: r.SpotifyAuth,
			},
			{
				Name:   "status",
				Usage:  "Show the signed-in account and current playback",
				Flags:  jsonFlags(),
				Action: r.SpotifyStatus,
			},
			{
				Name:   "logout",
				Usage:  "Forget the stored Spotify token",
				Action: r.SpotifyLogout,
			},
			{
				Name:   "devices",
				Usage:  "List available playback devices",
				Flags:  jsonFlags(),
				Action: r.SpotifyDevices,
			},
			{
				Name:   "play",
				Usage:  "Resume playback",
				Flags:  []cli.Flag{deviceFlag()},
				Action: r.SpotifyControl,
			},
			{
				Name:   "pause",
				Usage:  "Pause playback",
				Flags:  []cli.Flag{deviceFlag()},
				Action: r.SpotifyControl,
			},
			{
				Name:   "next",
				Usage:  "Skip to the next track",
				Flags:  []cli.Flag{deviceFlag()},
				Action: r.SpotifyControl,
			},
			{
				Name:    "previous",
				Aliases: []string{"prev"},
				Usage:   "Skip to the previous track",
				Flags:   []cli.Flag{deviceFlag()},
				Action:  r.SpotifyControl,
			},
			{
				Name:  "transfer",
				Usage: "Move playback to another device",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "device-id"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "play",
						Usage: "Start playing on the new device",
					},
				},
				Action: r.SpotifyTransfer,
			},
		},
	}
}

// policyCommand evaluates the navigation policy without a browser.
func policyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "policy",
		Usage: "Navigation policy tools",
		Commands: []*cli.Command{
			{
				Name:  "check",
				Usage: "Decide whether a navigation stays in the tab, is blocked or opens externally",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "url"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "current",
						Usage: "URL the tab is currently showing",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.PolicyCheck,
			},
			{
				Name:   "domains",
				Usage:  "List the allowed domains",
				Action: r.PolicyDomains,
			},
		},
	}
}

// historyCommand reads and exports the visit history.
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Pages visited in the kiosk",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "Show recent visits",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of visits",
						Value: 50,
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: txt, md or csv",
						Value:   "txt",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write to a file instead of stdout",
					},
				},
				Action: r.HistoryList,
			},
			{
				Name:   "clear",
				Usage:  "Delete all recorded visits",
				Action: r.HistoryClear,
			},
		},
	}
}
