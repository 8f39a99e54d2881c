package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/karthikraju391/campus-chat/config"
	"github.com/karthikraju391/campus-chat/store"
)

func NewMigrateCommand() *cobra.Command {
	cfg, loadErr := config.Load()
	if loadErr != nil {
		cfg = &config.Config{}
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Creates or updates the chat tables in PostgreSQL.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if loadErr != nil {
				return errors.WithMessage(loadErr, "could not load configuration")
			}
			dbc, err := openDB(cfg)
			if err != nil {
				return err
			}
			if err := dbc.UpdateSchema(); err != nil {
				return errors.WithMessage(err, "could not migrate db")
			}
			return nil
		},
	}

	cfg.BindFlags(cmd.Flags())
	return cmd
}

func openDB(cfg *config.Config) (*store.DB, error) {
	level, err := store.ParseLogLevel(cfg.DBLogLevel)
	if err != nil {
		return nil, err
	}
	dbc, err := store.New(cfg.DatabaseDSN, level)
	if err != nil {
		return nil, errors.WithMessage(err, "could not connect to db")
	}
	return dbc, nil
}
