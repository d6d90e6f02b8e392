package admission

import (
	"github.com/sparlo/tokengate/internal/admission/service"
	"go.uber.org/fx"
)

var Module = fx.Module("admission",
	fx.Provide(service.NewService),
)
