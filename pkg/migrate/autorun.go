package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/mala-backend/pkg/config"
	"github.com/angelmondragon/mala-backend/pkg/db"
	"github.com/angelmondragon/mala-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations on boot when MALA_AUTO_MIGRATE is set
// in dev. Elsewhere it only warns about pending migrations.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	if !cfg.App.IsDev() {
		pending, err := Pending(sqlDB, "")
		if err != nil {
			return err
		}
		if pending > 0 {
			logg.Warn(logg.WithField(ctx, "pending", pending), "auto-migrate ignored outside dev; run cmd/migrate")
		}
		return nil
	}

	logg.Info(ctx, "applying embedded migrations")
	if err := Run(ctx, sqlDB, "", "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}
	logg.Info(ctx, "migrations applied")
	return nil
}
