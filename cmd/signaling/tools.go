package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mossy-p/signconnect/internal/auth"
	"github.com/mossy-p/signconnect/internal/peer"
	"github.com/mossy-p/signconnect/internal/store"
	"github.com/spf13/cobra"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			// opening a gorm store migrates it, buntdb has no schema
			s, err := store.Open(cfg.Database, logger)
			if err != nil {
				return err
			}
			logger.Info("schema up to date", "type", cfg.Database.Type)
			return s.Close()
		},
	}
}

func tokenCommand() *cobra.Command {
	var id auth.Identity
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a relay token for development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			token, err := auth.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry).Issue(id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&id.UserID, "user", "", "user ID (required)")
	cmd.Flags().StringVar(&id.Name, "name", "", "display name")
	cmd.Flags().StringVar(&id.Email, "email", "", "email")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func probeCommand() *cobra.Command {
	var (
		url      string
		roomID   string
		token    string
		userID   string
		name     string
		ice      []string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Join a room as a WebRTC peer and negotiate with everyone in it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			if token == "" {
				token, err = auth.NewTokenService(cfg.JWTSecret, cfg.JWTExpiry).Issue(auth.Identity{UserID: userID, Name: name})
				if err != nil {
					return err
				}
			}
			if url == "" {
				url = "ws://localhost:" + cfg.Port + "/ws"
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			client := peer.NewClient(url, token, logger)
			if err := client.Connect(ctx); err != nil {
				return err
			}
			defer client.Close()

			mesh := peer.NewMesh(roomID, client, peer.NewPionFactory(ice, logger), logger)
			if err := mesh.Join(name); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				logger.Info("leaving", "peers", mesh.Peers())
				return mesh.Leave()
			case <-client.Done():
				mesh.Close()
				return fmt.Errorf("relay closed the connection")
			}
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "relay websocket URL (default ws://localhost:<port>/ws)")
	cmd.Flags().StringVar(&roomID, "room", "", "room to join (required)")
	cmd.Flags().StringVar(&token, "token", "", "bearer token; minted from --user when empty")
	cmd.Flags().StringVar(&userID, "user", "probe", "user ID for a minted token")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringSliceVar(&ice, "ice", []string{"stun:stun.l.google.com:19302"}, "STUN/TURN URLs")
	cmd.Flags().DurationVar(&duration, "duration", 0, "leave after this long (0 waits for a signal)")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}
