package period

import (
	"github.com/sparlo/tokengate/internal/period/repository"
	"github.com/sparlo/tokengate/internal/period/service"
	"go.uber.org/fx"
)

var Module = fx.Module("period",
	fx.Provide(
		repository.New,
		service.NewService,
	),
)
