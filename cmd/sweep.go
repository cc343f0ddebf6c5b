package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"medistream/config"
	"medistream/pkg/blob"
	"medistream/repository"
	server2 "medistream/server"
	"medistream/store"
)

func sweep(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "remove orphaned chunk payloads with no metadata record",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := server2.SetupLogger(cfg)

			repo := repository.NewRepo(cfg.DB)
			blobs := blob.NewStore(cfg.Storage, cfg.MinIOBucket, cfg.Stream.LocatorTTL)
			chunkStore := store.New(repo, nil, nil)

			removed, err := chunkStore.SweepOrphans(ctx, blobs, cfg.Stream.SweepGrace)
			if err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().Int("removed", removed).Msg("sweep completed")
			return nil
		},
	}
}
