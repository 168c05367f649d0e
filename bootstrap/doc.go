// Package bootstrap wires configuration, logging, storage and the triage
// pipeline into an App that the CLI commands drive.
//
// Usage:
//
//	cfg, err := bootstrap.InitConfig(path)
//	logger, sugar, err := bootstrap.InitLogger(cfg.LogLevel)
//	app, err := bootstrap.NewApp(ctx, cfg, sugar)
//	defer app.Shutdown()
//
//	report, err := app.Triage(ctx, "okta-logs.txt", ingest.FormatAuto, transcript)
package bootstrap
