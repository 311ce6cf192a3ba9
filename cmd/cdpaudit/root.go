package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"cdpaudit/internal/config"
	"cdpaudit/internal/logger"
	"cdpaudit/internal/report"
	"cdpaudit/internal/session"
	"cdpaudit/pkg/api"
	"cdpaudit/pkg/browser"
)

const (
	defaultConfigFile = "cdpaudit.yaml"
	defaultURL        = "http://localhost:8000"
)

type rootFlags struct {
	configPath string
	host       string
	port       int
	mode       string
	timeout    time.Duration
	db         string
	pretty     bool
	verbose    bool
	summary    bool
}

// dialOverride 测试中替换协议会话
var dialOverride func(ctx context.Context) (browser.Client, error)

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "cdpaudit [flags] URL...",
		Short: "Visit pages in Chrome and report console, audit, security and certificate diagnostics",
		Long: `cdpaudit connects to a Chrome remote debugging endpoint, visits each URL in
order and prints every diagnostic collected during the visits as a JSON array.
Without URL arguments ` + defaultURL + ` is visited.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(cmd, f, args, stdout, stderr)
		},
	}

	fl := cmd.PersistentFlags()
	fl.StringVarP(&f.configPath, "config", "c", "", "config file (default ./"+defaultConfigFile+" when present)")
	fl.StringVar(&f.db, "db", "", "SQLite file for run history")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging on stderr")

	rf := cmd.Flags()
	rf.StringVar(&f.host, "host", "", "remote debugging host (env CHROME_HOST)")
	rf.IntVar(&f.port, "port", 0, "remote debugging port (env CHROME_PORT)")
	rf.StringVar(&f.mode, "mode", "", "browsing context per URL: isolated or shared")
	rf.DurationVar(&f.timeout, "timeout", 0, "load timeout per URL (default 45s)")
	rf.BoolVar(&f.pretty, "pretty", false, "indent the JSON report")
	rf.BoolVar(&f.summary, "summary", false, "print a run summary line on stderr")

	cmd.AddCommand(newHistoryCmd(f, stdout))
	return cmd
}

// loadConfig 默认配置 < 配置文件 < 环境变量 < 命令行
func loadConfig(cmd *cobra.Command, f *rootFlags) (*config.Config, error) {
	path := f.configPath
	if path == "" {
		path = defaultConfigFile
	}
	cfg, err := config.Load(path)
	switch {
	case errors.Is(err, config.ErrConfigNotFound) && f.configPath == "":
		cfg = config.NewConfig()
	case err != nil:
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Chrome.Host = f.host
	}
	if flags.Changed("port") {
		cfg.Chrome.Port = f.port
	}
	if flags.Changed("mode") {
		cfg.Chrome.Mode = f.mode
	}
	if flags.Changed("timeout") {
		cfg.Chrome.TimeoutSeconds = int(f.timeout.Round(time.Second) / time.Second)
	}
	if f.db != "" {
		cfg.Sqlite.Dsn = f.db
	}
	if f.verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func newService(cmd *cobra.Command, f *rootFlags) (*api.Service, error) {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return nil, err
	}
	l := logger.New(logger.Options{Level: cfg.Log.Level, Writer: cfg.Log.Writer, File: cfg.Log.File})
	var opts []api.Option
	if dialOverride != nil {
		opts = append(opts, api.WithDialer(dialOverride))
	}
	return api.NewService(cfg, l, opts...)
}

func runAudit(cmd *cobra.Command, f *rootFlags, urls []string, stdout, stderr io.Writer) error {
	svc, err := newService(cmd, f)
	if err != nil {
		return err
	}
	defer svc.Close()

	if len(urls) == 0 {
		urls = []string{defaultURL}
	}
	res, err := svc.Run(cmd.Context(), urls)
	if res == nil {
		return err
	}
	if werr := report.Write(stdout, res.Report, f.pretty); werr != nil {
		return werr
	}
	if w := res.Warning(); w != nil {
		fmt.Fprintln(stderr, "warning:", w)
	}
	if f.summary {
		if serr := report.WriteSummary(stderr, res.Summary()); serr != nil {
			return serr
		}
	}
	if err != nil && !errors.Is(err, session.ErrTeardown) {
		return err
	}
	return nil
}
