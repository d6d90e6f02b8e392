package plancatalog

import "go.uber.org/fx"

var Module = fx.Module("plancatalog",
	fx.Provide(New),
)
