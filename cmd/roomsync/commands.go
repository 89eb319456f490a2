// Command definitions for the roomsync CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/chordboard/roomsync/internal/api"
	"github.com/chordboard/roomsync/internal/config"
	"github.com/chordboard/roomsync/internal/devserver"
	"github.com/chordboard/roomsync/internal/domain"
	"github.com/chordboard/roomsync/internal/sync"
	"github.com/chordboard/roomsync/internal/transport"
)

func serverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "server",
			Usage: "Backend base URL (overrides config)",
		},
		&cli.StringFlag{
			Name:  "token",
			Usage: "Bearer token (overrides config)",
		},
	}
}

// loadConfig layers CLI flags over the viper config.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if v := cmd.String("server"); v != "" {
		cfg.ServerURL = v
	}
	if v := cmd.String("token"); v != "" {
		cfg.Token = v
	}
	return cfg, nil
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Exchange credentials for a bearer token",
		Flags: append(serverFlags(),
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "password", Required: true},
			&cli.StringFlag{Name: "name", Usage: "Display name; registers a new account when set"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			var client *api.Client
			if name := cmd.String("name"); name != "" {
				client, err = api.Register(ctx, cfg.ServerURL, cmd.String("email"), name, cmd.String("password"))
			} else {
				client, err = api.Login(ctx, cfg.ServerURL, cmd.String("email"), cmd.String("password"))
			}
			if err != nil {
				return err
			}
			fmt.Println(client.Token())
			return nil
		},
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a room and print its id and join code",
		Flags: append(serverFlags(),
			&cli.StringFlag{Name: "name", Required: true, Usage: "Room name"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := api.NewClient(cfg.ServerURL, cfg.Token)
			if err != nil {
				return err
			}
			room, err := client.CreateRoom(ctx, cmd.String("name"))
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", room.ID, room.Code)
			return nil
		},
	}
}

func joinCommand() *cli.Command {
	return &cli.Command{
		Name:  "join",
		Usage: "Join a room and tail its state diffs as JSON lines",
		Flags: append(serverFlags(),
			&cli.StringFlag{Name: "room", Usage: "Room id"},
			&cli.StringFlag{Name: "code", Usage: "6-char join code (alternative to --room)"},
			&cli.StringFlag{Name: "as", Usage: "Display name", Value: "guest"},
			&cli.BoolFlag{Name: "force-resync", Usage: "Refetch a snapshot on every event (for backends without sequence numbers)"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, err := api.NewClient(cfg.ServerURL, cfg.Token)
			if err != nil {
				return err
			}

			roomID := domain.RoomID(cmd.String("room"))
			if code := cmd.String("code"); code != "" {
				room, err := client.JoinRoom(ctx, domain.RoomCode(code), cfg.Instrument)
				if err != nil {
					return err
				}
				roomID = room.ID
			}
			if roomID == "" {
				return fmt.Errorf("either --room or --code is required")
			}

			ch := transport.NewWSChannel(cfg.StreamURL+"?token="+client.Token(), client.Token())
			sess, err := sync.Open(ctx, sync.SessionConfig{
				RoomID:        roomID,
				Self:          client.Self(),
				SelfName:      cmd.String("as"),
				Channel:       ch,
				Snapshots:     client,
				Sender:        client,
				ActionTimeout: cfg.ActionTimeout,
				ForceResync:   cfg.ForceResync || cmd.Bool("force-resync"),
			})
			if err != nil {
				return err
			}
			defer sess.Close()

			enc := json.NewEncoder(os.Stdout)
			unsubscribe := sess.Subscribe(func(d sync.Diff) {
				if err := enc.Encode(d); err != nil {
					log.Error().Err(err).Msg("diff encode")
				}
			})
			defer unsubscribe()

			log.Info().Str("room", string(roomID)).Msg("joined, tailing diffs")
			<-ctx.Done()
			return nil
		},
	}
}

func devserverCommand() *cli.Command {
	return &cli.Command{
		Name:  "devserver",
		Usage: "Run the in-memory backend emulator",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "Listen port (overrides config)"},
			&cli.StringFlag{Name: "mode", Usage: "gin mode: debug or release"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if p := cmd.Int("port"); p != 0 {
				cfg.Port = int(p)
			}
			if m := cmd.String("mode"); m != "" {
				cfg.Mode = m
			}
			return devserver.NewServer(cfg).Run(ctx)
		},
	}
}
