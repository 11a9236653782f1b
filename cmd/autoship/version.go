package main

import (
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/autoship/autoship/internal/config"
	"github.com/autoship/autoship/internal/output"
	"github.com/autoship/autoship/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current project version",
		Long:  "Print the version persisted in the configured version files.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Reading the version does not need a complete release
			// configuration, only the version-file locations.
			cfg, err := config.NewLoader().Load(flagConfig)
			if err != nil {
				return err
			}
			cfg = cfg.WithDefaults()

			locations := make([]version.Location, len(cfg.VersionFiles))
			for i, f := range cfg.VersionFiles {
				locations[i] = version.Location{Path: f.Path, Pattern: f.Pattern}
			}
			store, err := version.NewStore(osfs.New(flagRepo), locations)
			if err != nil {
				return err
			}

			current, err := store.Current()
			if err != nil {
				return err
			}
			output.Println(current.String())
			return nil
		},
	}
}
