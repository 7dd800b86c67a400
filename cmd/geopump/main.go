package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/geopump/geopump/pkg/client"
	"github.com/geopump/geopump/pkg/config"
	"github.com/geopump/geopump/pkg/frame"
	"github.com/geopump/geopump/pkg/logger"
	"github.com/geopump/geopump/pkg/transfer"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "geopump",
		Short: "geopump - bulk data transfer for spatial SQL warehouses",
		Long: `geopump streams tabular and geometry data between local CSV files and a
CARTO-style spatial SQL warehouse over a streaming COPY protocol, with
rate-limit retry, column type inference and geometry re-encoding.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("geopump %s\n", version)
		},
	})

	root.AddCommand(newCopyToCommand())
	root.AddCommand(newCopyFromCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration from flag > environment > config file.
func loadConfig(cmd *cobra.Command) (*config.BaseConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("GEOPUMP")
	v.AutomaticEnv()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := config.NewBaseConfig("geopump-cli")

	if s := v.GetString("base_url"); s != "" {
		cfg.Credentials.BaseURL = s
	}
	if s := v.GetString("api_key"); s != "" {
		cfg.Credentials.APIKey = s
	}
	if s := v.GetString("dsn"); s != "" {
		cfg.Credentials.DSN = s
	}
	if s := v.GetString("schema"); s != "" {
		cfg.Credentials.Schema = s
	}

	for flagName, target := range map[string]*string{
		"base-url": &cfg.Credentials.BaseURL,
		"api-key":  &cfg.Credentials.APIKey,
		"dsn":      &cfg.Credentials.DSN,
		"schema":   &cfg.Credentials.Schema,
	} {
		if s, _ := cmd.Flags().GetString(flagName); s != "" {
			*target = s
		}
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Observability.LogLevel = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogFormat,
	}); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newManager builds the transfer manager over the configured transport:
// direct PostgreSQL when a DSN is set, the hosted SQL API otherwise.
func newManager(ctx context.Context, cfg *config.BaseConfig) (*transfer.Manager, func(), error) {
	opts := []transfer.Option{
		transfer.WithRetryDelays(cfg.Reliability.RetryDelay, cfg.Reliability.MaxRetryDelay),
		transfer.WithBufferSize(cfg.Performance.BufferSize),
	}
	if cfg.Credentials.Schema != "" {
		opts = append(opts, transfer.WithSchema(cfg.Credentials.Schema))
	}

	if cfg.Credentials.DSN != "" {
		c, err := client.NewPGDirectClient(ctx, cfg.Credentials.DSN)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() { _ = c.Close(context.Background()) }
		return transfer.NewManager(c, opts...), cleanup, nil
	}

	c, err := client.NewCartoClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	return transfer.NewManager(c, opts...), func() {}, nil
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to a YAML config file")
	cmd.Flags().String("base-url", "", "Remote store base URL")
	cmd.Flags().String("api-key", "", "Remote store API key")
	cmd.Flags().String("dsn", "", "PostgreSQL DSN for direct wire access")
	cmd.Flags().String("schema", "", "Remote schema (default: server's current schema)")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().Duration("timeout", 30*time.Minute, "Overall operation timeout")
}

func newCopyToCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy-to <source> <output.csv>",
		Short: "Download a table or query result into a local CSV file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			mgr, cleanup, err := newManager(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := transfer.CopyToOptions{
				Source:      args[0],
				RetryBudget: &cfg.Reliability.RetryAttempts,
			}
			if limit, _ := cmd.Flags().GetInt("limit"); cmd.Flags().Changed("limit") {
				opts.Limit = &limit
			}
			opts.KeepWebmercator, _ = cmd.Flags().GetBool("keep-webmercator")

			f, err := mgr.CopyTo(ctx, opts)
			if err != nil {
				return err
			}

			if err := writeFrameCSV(args[1], f); err != nil {
				return err
			}
			logger.Info("wrote csv",
				zap.String("path", args[1]), zap.Int("rows", f.NumRows()))
			return nil
		},
	}
	addCommonFlags(cmd)
	cmd.Flags().Int("limit", 0, "Maximum number of rows to download")
	cmd.Flags().Bool("keep-webmercator", false, "Keep the store's internal projected-geometry column")
	return cmd
}

func newCopyFromCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy-from <input.csv> <table>",
		Short: "Upload a local CSV file into a remote table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			mgr, cleanup, err := newManager(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			f, err := readFrameCSV(args[0])
			if err != nil {
				return err
			}

			mode, _ := cmd.Flags().GetString("if-exists")
			return mgr.CopyFrom(ctx, f, args[1], transfer.IfExists(mode))
		},
	}
	addCommonFlags(cmd)
	cmd.Flags().String("if-exists", "fail", "Write mode against an existing table (fail, replace, append)")
	return cmd
}

// writeFrameCSV writes a frame, index first when present, as comma CSV.
func writeFrameCSV(path string, f *frame.Frame) error {
	file, err := os.Create(path) //nolint:gosec // G304: path is an explicit CLI argument
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)

	header := f.Columns()
	hasIndex := f.IndexName() != ""
	if hasIndex {
		header = append([]string{f.IndexName()}, header...)
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for i := 0; i < f.NumRows(); i++ {
		row := f.Row(i)
		record := make([]string, 0, len(row)+1)
		if hasIndex {
			record = append(record, fmt.Sprintf("%v", f.IndexValue(i)))
		}
		for _, v := range row {
			if v == nil {
				record = append(record, "")
				continue
			}
			record = append(record, fmt.Sprintf("%v", v))
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// readFrameCSV reads comma CSV into a frame with light type inference:
// integers, floats and booleans are parsed, everything else stays text.
func readFrameCSV(path string) (*frame.Frame, error) {
	file, err := os.Open(path) //nolint:gosec // G304: path is an explicit CLI argument
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return frame.New()
	}

	f, err := frame.New(records[0]...)
	if err != nil {
		return nil, err
	}
	for _, record := range records[1:] {
		values := make([]interface{}, len(record))
		for i, field := range record {
			values[i] = inferValue(field)
		}
		if err := f.AppendRow(values...); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func inferValue(s string) interface{} {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if fv, err := strconv.ParseFloat(s, 64); err == nil {
		return fv
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
