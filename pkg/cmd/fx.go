package cmd

import "go.uber.org/fx"

var Module = fx.Module("cli",
	fx.Provide(
		NewEnv,
		fx.Annotate(initCmd, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(migrateCmd, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(run, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(status, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(unlock, fx.ResultTags(`group:"commands"`)),
	),
	fx.Invoke(Run),
)
