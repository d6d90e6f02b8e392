package tenant

import (
	"github.com/sparlo/tokengate/internal/tenant/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant",
	fx.Provide(repository.New),
)
