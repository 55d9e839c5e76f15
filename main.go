package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castmedia/castmedia_server/internal"
	"github.com/castmedia/castmedia_server/internal/media"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
)

const version = "1.0.0"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "castmedia",
		Short:         "Media asset resolution, caching and access-control proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default files/config.yaml)")
	rootCmd.AddCommand(serveCmd(), migrateCmd(), resolveCmd(), fetchCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func loadConfig() (*internal.Config, error) {
	config, err := internal.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	internal.SetupLogging(config.Log)
	return config, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := internal.NewApp(ctx, config, version)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer app.Close()

			server := &fasthttp.Server{
				Name:               "castmedia",
				Handler:            app.Handler,
				MaxRequestBodySize: config.Server.MaxRequestBodyMB << 20,
				StreamRequestBody:  true,
				ReadTimeout:        2 * time.Minute,
				WriteTimeout:       2 * time.Minute,
				IdleTimeout:        time.Minute,
			}

			errs := make(chan error, 1)
			go func() {
				log.Info().Str("addr", config.Server.Addr).Str("version", version).Msg("Server listening")
				errs <- server.ListenAndServe(config.Server.Addr)
			}()

			select {
			case err := <-errs:
				return fmt.Errorf("server stopped: %w", err)
			case <-ctx.Done():
				log.Info().Msg("Shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				return server.ShutdownWithContext(shutdownCtx)
			}
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pointer database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := internal.NewDB(config.Pointers.DSN, config.Server.MigrationsPath)
			if err != nil {
				return err
			}
			return db.Close()
		},
	}
}

func resolveCmd() *cobra.Command {
	var thumb bool
	cmd := &cobra.Command{
		Use:   "resolve <ownerId>",
		Short: "Resolve an owner's avatar and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := internal.NewApp(cmd.Context(), config, version)
			if err != nil {
				return err
			}
			defer app.Close()

			prefer := media.PreferFull
			if thumb {
				prefer = media.PreferThumb
			}
			result := app.Chain.Resolve(cmd.Context(), args[0], prefer)

			out, err := json.MarshalIndent(map[string]string{
				"ownerId":      args[0],
				"url":          result.URL,
				"source":       string(result.Source),
				"cacheControl": result.CacheControl(),
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&thumb, "thumb", false, "prefer the smallest rendition")
	return cmd
}

func fetchCmd() *cobra.Command {
	var (
		variant  string
		cacheDir string
		ttl      time.Duration
		out      string
	)
	cmd := &cobra.Command{
		Use:   "fetch <ownerId>",
		Short: "Fetch an avatar from the external URL through the client cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			fetcher, err := internal.NewAvatarFetcher(config.Server, cacheDir, ttl)
			if err != nil {
				return err
			}

			blob, err := fetcher.Fetch(cmd.Context(), args[0], variant)
			if err != nil {
				return err
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(blob)
				return err
			}
			if err := os.WriteFile(out, blob, 0o644); err != nil {
				return fmt.Errorf("failed to write avatar: %w", err)
			}
			log.Info().Str("ownerId", args[0]).Int("bytes", len(blob)).Str("out", out).Msg("Avatar saved")
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "full", "full or thumb")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "directory for cached avatars (memory when empty)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "cache freshness (default 24h)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the image to this file instead of stdout")
	return cmd
}
