package cli

import (
	"context"
	"fmt"
	"io"

	"seo-metrics-etl/config"
	"seo-metrics-etl/services"
	"seo-metrics-etl/storage"
	"seo-metrics-etl/utils"
)

// app is the per-invocation environment every command starts from.
type app struct {
	cfg      *config.Config
	logger   *utils.Logger
	pipeline *services.Pipeline
}

func newApp(globals *GlobalFlags, out io.Writer, override func(*config.Config)) (*app, error) {
	cfg := config.Load(globals.EnvFile...)
	if globals.Fields != "" {
		cfg.FieldsConfigPath = globals.Fields
	}
	if override != nil {
		override(cfg)
	}

	level := utils.ParseLevel(cfg.LogLevel)
	if globals.Verbose {
		level = utils.LevelDebug
	}
	logger, err := utils.NewLoggerWithOptions(utils.LoggerOptions{
		Level:      level,
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		return nil, err
	}

	fields, err := config.LoadFields(cfg.FieldsConfigPath)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	p := services.NewPipeline(cfg, fields, logger)
	p.SetOutput(out)
	return &app{cfg: cfg, logger: logger, pipeline: p}, nil
}

func driverOverride(driver string) func(*config.Config) {
	return func(cfg *config.Config) {
		if driver != "" {
			cfg.StoreDriver = driver
		}
	}
}

// Execute implements the go-flags Commander interface for RunCommand.
func (c *RunCommand) Execute(args []string) error {
	a, err := newApp(c.globals, c.out, func(cfg *config.Config) {
		if c.Snapshot {
			cfg.ReportSnapshot = true
		}
	})
	if err != nil {
		return err
	}
	defer a.logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	a.logger.Info("=== SEO metrics ETL starting ===")
	a.logger.Info("Config — input: %s | store: %s | concurrency: %d",
		a.cfg.RawHTMLDir, a.cfg.StoreDriver, a.cfg.MaxConcurrency)

	summary, err := a.pipeline.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "  Done. CSV → %s | charts → %s | report → %s\n\n",
		a.cfg.CSVOutputPath, a.cfg.ChartOutputDir, summary.ReportPath)
	return nil
}

// Execute implements the go-flags Commander interface for ExtractCommand.
func (c *ExtractCommand) Execute(args []string) error {
	a, err := newApp(c.globals, c.out, func(cfg *config.Config) {
		if c.Concurrency > 0 {
			cfg.MaxConcurrency = c.Concurrency
		}
	})
	if err != nil {
		return err
	}
	defer a.logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	summary := &services.RunSummary{}
	if _, err := a.pipeline.Transform(ctx, summary); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Extracted %d/%d snapshots, %d records (%d field errors) → %s\n",
		summary.Extracted, summary.Files, summary.Records, summary.FieldErrors, a.cfg.CSVOutputPath)
	return nil
}

// Execute implements the go-flags Commander interface for LoadCommand.
func (c *LoadCommand) Execute(args []string) error {
	return withStore(c.globals, c.out, driverOverride(c.Driver), func(ctx context.Context, a *app, st storage.Store) error {
		run, err := a.pipeline.Load(ctx, st)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Loaded %d rows (run %s)\n", run.RowCount, run.ID)
		return nil
	})
}

// Execute implements the go-flags Commander interface for AnalyzeCommand.
func (c *AnalyzeCommand) Execute(args []string) error {
	return withStore(c.globals, c.out, driverOverride(c.Driver), func(ctx context.Context, a *app, st storage.Store) error {
		_, err := a.pipeline.Analyze(ctx, st)
		return err
	})
}

// Execute implements the go-flags Commander interface for ChartCommand.
func (c *ChartCommand) Execute(args []string) error {
	override := func(cfg *config.Config) {
		driverOverride(c.Driver)(cfg)
		if c.Format != "" {
			cfg.ChartFormat = c.Format
		}
	}
	return withStore(c.globals, c.out, override, func(ctx context.Context, a *app, st storage.Store) error {
		analysis, err := a.pipeline.Query(ctx, st)
		if err != nil {
			return err
		}
		paths, err := a.pipeline.Chart(analysis)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintln(c.out, p)
		}
		return nil
	})
}

// Execute implements the go-flags Commander interface for ReportCommand.
func (c *ReportCommand) Execute(args []string) error {
	override := func(cfg *config.Config) {
		driverOverride(c.Driver)(cfg)
		if c.Snapshot {
			cfg.ReportSnapshot = true
		}
	}
	return withStore(c.globals, c.out, override, func(ctx context.Context, a *app, st storage.Store) error {
		analysis, err := a.pipeline.Query(ctx, st)
		if err != nil {
			return err
		}
		htmlPath, pngPath, err := a.pipeline.Report(ctx, analysis)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, htmlPath)
		if pngPath != "" {
			fmt.Fprintln(c.out, pngPath)
		}
		return nil
	})
}

// withStore opens the configured store around fn.
func withStore(globals *GlobalFlags, out io.Writer, override func(*config.Config), fn func(context.Context, *app, storage.Store) error) error {
	a, err := newApp(globals, out, override)
	if err != nil {
		return err
	}
	defer a.logger.Close()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := storage.Open(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(ctx, a, st)
}
