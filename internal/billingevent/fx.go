package billingevent

import (
	"github.com/sparlo/tokengate/internal/billingevent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingevent",
	fx.Provide(service.NewService),
)
