// codabookctl is the operator's companion tool: it seeds and clears codebook
// schemas and runs exports without going through the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"codabook/api/db"
	"codabook/api/internal/artifact"
	"codabook/api/internal/config"
	"codabook/api/internal/export"
	"codabook/api/internal/logging"
	"codabook/api/internal/schema"
	"codabook/api/internal/store"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "codabookctl",
		Short:         "Codabook operations tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(schemaCommand(), exportCommand())
	return root
}

func openStore(ctx context.Context) (*store.PostgresStore, func(), error) {
	cfg := config.Load()
	conn, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	// The CLI carries its migrations embedded, so it works from any directory.
	if err := store.ApplyMigrationsFS(ctx, conn, db.Migrations); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return store.NewPostgresStore(conn), func() { conn.Close() }, nil
}

func parseSpeaker(raw string) (store.Speaker, error) {
	speaker := store.Speaker(raw)
	if !store.ValidSpeaker(speaker) {
		return "", fmt.Errorf("unknown coding perspective %q (want client, therapist or dyad)", raw)
	}
	return speaker, nil
}

func schemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Load and unload codebook schemas",
	}

	var (
		role       string
		labelsFile string
		scalesFile string
	)

	load := &cobra.Command{
		Use:   "load",
		Short: "Seed a perspective's label tree and scales from JSON files",
		RunE: func(cmd *cobra.Command, args []string) error {
			speaker, err := parseSpeaker(role)
			if err != nil {
				return err
			}
			if labelsFile == "" && scalesFile == "" {
				return fmt.Errorf("nothing to load: pass --labels and/or --scales")
			}

			ctx := cmd.Context()
			st, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			log, err := logging.New()
			if err != nil {
				return err
			}
			defer log.Sync()
			loader := schema.NewLoader(st, log)

			if labelsFile != "" {
				data, err := os.ReadFile(labelsFile)
				if err != nil {
					return err
				}
				if err := loader.Load(ctx, speaker, data); err != nil {
					return err
				}
			}
			if scalesFile != "" {
				data, err := os.ReadFile(scalesFile)
				if err != nil {
					return err
				}
				if err := loader.LoadScales(ctx, speaker, data); err != nil {
					return err
				}
			}
			return nil
		},
	}
	load.Flags().StringVar(&role, "role", "", "coding perspective (client, therapist, dyad)")
	load.Flags().StringVar(&labelsFile, "labels", "", "path to the label tree JSON")
	load.Flags().StringVar(&scalesFile, "scales", "", "path to the scale table JSON")
	_ = load.MarkFlagRequired("role")

	var unloadScalesOnly bool
	unload := &cobra.Command{
		Use:   "unload",
		Short: "Delete a perspective's schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			speaker, err := parseSpeaker(role)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			log, err := logging.New()
			if err != nil {
				return err
			}
			defer log.Sync()
			loader := schema.NewLoader(st, log)

			if err := loader.UnloadScales(ctx, speaker); err != nil {
				return err
			}
			if unloadScalesOnly {
				return nil
			}
			return loader.Unload(ctx, speaker)
		},
	}
	unload.Flags().StringVar(&role, "role", "", "coding perspective (client, therapist, dyad)")
	unload.Flags().BoolVar(&unloadScalesOnly, "scales-only", false, "delete only the scale table")
	_ = unload.MarkFlagRequired("role")

	cmd.AddCommand(load, unload)
	return cmd
}

func exportCommand() *cobra.Command {
	var (
		user    string
		dataset string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one annotator's organized annotations to the artifact store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Load()

			st, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			artifacts, err := artifact.New(ctx, artifact.Config{
				Endpoint:  cfg.MinioEndpoint,
				AccessKey: cfg.MinioAccessKey,
				SecretKey: cfg.MinioSecretKey,
				Bucket:    cfg.MinioBucket,
				UseSSL:    cfg.MinioUseSSL,
			})
			if err != nil {
				return err
			}

			log, err := logging.New()
			if err != nil {
				return err
			}
			defer log.Sync()

			results, err := export.NewService(st, artifacts, log).Export(ctx, user, dataset)
			if err != nil {
				return err
			}
			for _, res := range results {
				fmt.Fprintln(cmd.OutOrStdout(), res.Key)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "annotator username")
	cmd.Flags().StringVar(&dataset, "dataset", "", "dataset name")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}
