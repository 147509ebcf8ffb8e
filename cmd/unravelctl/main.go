// Command unravelctl recovers hidden strings from binary blobs and manages
// the local run history.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/RowanDark/unravel/internal/config"
	"github.com/RowanDark/unravel/internal/logging"
)

var version = "dev"

// CLI is the unravelctl command tree.
type CLI struct {
	Config   string `name:"config" short:"c" help:"Read settings from this YAML file instead of the search path." type:"path"`
	LogLevel string `name:"log-level" help:"Override the configured log level."`
	Journal  string `name:"journal" help:"Append audit events as JSON lines to this file." type:"path"`
	DB       string `name:"db" help:"History database path; defaults to the configured database_path." type:"path"`

	Analyze    AnalyzeCmd    `cmd:"" help:"Recover strings hidden in a blob."`
	Decode     DecodeCmd     `cmd:"" help:"Apply one transform to a byte span."`
	Transforms TransformsCmd `cmd:"" help:"List the transform bank."`
	History    HistoryGroup  `cmd:"" help:"Inspect stored runs."`
	Remote     RemoteCmd     `cmd:"" help:"Analyse a blob on an unraveld daemon."`
	Version    VersionCmd    `cmd:"" help:"Print version information."`
}

// app is bound into every command's Run method.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	audit  *logging.AuditLogger
	dbPath string
	stdout io.Writer
	stderr io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var cli CLI
	exitCode := -1
	parser, err := kong.New(&cli,
		kong.Name("unravelctl"),
		kong.Description("Heuristic extraction of strings hidden in binary blobs."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.Exit(func(code int) { exitCode = code }),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	if err != nil {
		fmt.Fprintf(stderr, "build cli: %v\n", err)
		return 2
	}
	kctx, err := parser.Parse(args)
	if exitCode >= 0 {
		return exitCode
	}
	if err != nil {
		fmt.Fprintf(stderr, "unravelctl: %v\n", err)
		return 2
	}

	a, err := newApp(cli, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "unravelctl: %v\n", err)
		return 1
	}
	defer a.audit.Close()

	if err := kctx.Run(a); err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintf(stderr, "unravelctl: %v\n", err)
			return 2
		}
		fmt.Fprintf(stderr, "unravelctl: %v\n", err)
		return 1
	}
	return 0
}

func newApp(cli CLI, stdout, stderr io.Writer) (*app, error) {
	var (
		cfg config.Config
		err error
	)
	if cli.Config != "" {
		cfg, err = config.LoadFile(cli.Config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	audit := logging.NopAuditLogger()
	if cli.Journal != "" {
		audit, err = logging.NewAuditLogger("unravelctl", logging.WithFile(cli.Journal), logging.WithoutStdout())
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
	}

	dbPath := cli.DB
	if dbPath == "" {
		dbPath = cfg.DatabasePath
	}

	return &app{
		cfg:    cfg,
		dbPath: dbPath,
		logger: logging.NewLogger("unravelctl", logging.WithOutput(stderr), logging.WithLevel(level), logging.WithFormat(cfg.LogFormat)),
		audit:  audit,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

// usageError marks errors caused by bad invocation rather than failure.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run(a *app) error {
	fmt.Fprintln(a.stdout, version)
	return nil
}
