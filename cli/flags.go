package cli

import "io"

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	EnvFile []string `long:"env-file" description:"Load environment variables from file (repeatable)"`
	Fields  string   `long:"fields" description:"Path to a YAML or JSON field map (overrides FIELDS_CONFIG_PATH)"`
	Verbose bool     `short:"v" long:"verbose" description:"Enable debug logging"`
	Version bool     `long:"version" description:"Show version and exit"`
}

// RunCommand runs every stage: extract, transform, load, analyze, chart, report.
type RunCommand struct {
	Snapshot bool `long:"snapshot" description:"Also rasterize the HTML report to PNG"`

	globals *GlobalFlags
	out     io.Writer
}

// ExtractCommand extracts the snapshots, normalizes them and writes the CSV.
type ExtractCommand struct {
	Concurrency int `long:"concurrency" description:"Override MAX_CONCURRENCY"`

	globals *GlobalFlags
	out     io.Writer
}

// LoadCommand loads the CSV into the store and creates the views.
type LoadCommand struct {
	Driver string `long:"driver" description:"Override STORE_DRIVER" choice:"sqlite" choice:"postgres"`

	globals *GlobalFlags
	out     io.Writer
}

// AnalyzeCommand prints the month-over-month and ranking analysis.
type AnalyzeCommand struct {
	Driver string `long:"driver" description:"Override STORE_DRIVER" choice:"sqlite" choice:"postgres"`

	globals *GlobalFlags
	out     io.Writer
}

// ChartCommand renders the charts from the loaded store.
type ChartCommand struct {
	Format string `long:"format" description:"Override CHART_FORMAT" choice:"png" choice:"svg"`
	Driver string `long:"driver" description:"Override STORE_DRIVER" choice:"sqlite" choice:"postgres"`

	globals *GlobalFlags
	out     io.Writer
}

// ReportCommand writes the HTML report from the loaded store.
type ReportCommand struct {
	Snapshot bool   `long:"snapshot" description:"Also rasterize the HTML report to PNG"`
	Driver   string `long:"driver" description:"Override STORE_DRIVER" choice:"sqlite" choice:"postgres"`

	globals *GlobalFlags
	out     io.Writer
}
