package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authhero/internal/logger"
	"github.com/MrEthical07/authhero/store/postgres"
	"github.com/MrEthical07/authhero/store/sqlite"
)

type MigrateCmd struct {
	Store StoreFlags `embed:"" prefix:"store-"`
}

func (c *MigrateCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := log.WithContext(context.Background())

	switch c.Store.Type {
	case "postgres":
		cfg, err := c.Store.postgresConfig(false)
		if err != nil {
			return err
		}
		st, err := postgres.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	case "sqlite":
		// Open applies pending migrations.
		st, err := sqlite.Open(ctx, c.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
		defer st.Close()
	default:
		return errors.New("migrate needs --store-type=sqlite or --store-type=postgres")
	}

	log.Info().Str("store", c.Store.Type).Msg("migrations applied")
	return nil
}
