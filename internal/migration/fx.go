package migration

import (
	"github.com/sparlo/tokengate/internal/billingevent/domain"
	"github.com/sparlo/tokengate/internal/config"
	perioddomain "github.com/sparlo/tokengate/internal/period/domain"
	tenantdomain "github.com/sparlo/tokengate/internal/tenant/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// Non-postgres deployments (sqlite dev setups) take the gorm
			// schema; the partial unique index is created explicitly since
			// struct tags cannot express it.
			if err := conn.AutoMigrate(
				&tenantdomain.Tenant{},
				&perioddomain.UsagePeriod{},
				&domain.ProcessedEvent{},
			); err != nil {
				return err
			}
			return conn.Exec(
				`CREATE UNIQUE INDEX IF NOT EXISTS ux_usage_periods_active
				 ON usage_periods (tenant_id) WHERE status = 'active'`,
			).Error
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
