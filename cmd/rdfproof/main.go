// Package main provides the rdfproof CLI entry point.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orneryd/rdfproof/pkg/config"
	"github.com/orneryd/rdfproof/pkg/explain"
	"github.com/orneryd/rdfproof/pkg/logging"
	"github.com/orneryd/rdfproof/pkg/rdfproof"
	"github.com/orneryd/rdfproof/pkg/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rdfproof",
		Short: "rdfproof - explain inferred RDF statements",
		Long: `rdfproof stores RDF quads, materializes their closure under a rule
catalog (owl2-rl, owl-horst, rdfs or empty) and explains any statement by the
rule that derived it and the premises that rule matched.

Configuration is layered: built-in defaults, then the --config file, then
RDFPROOF_* environment variables, then command-line flags.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML configuration file")
	flags.String("data-dir", "", "Data directory (overrides config)")
	flags.String("ruleset", "", "Rule catalog: owl2-rl, owl-horst, rdfs or empty")
	flags.String("ruleset-file", "", "Custom YAML rule catalog")
	flags.Bool("in-memory", false, "Keep all data in memory")
	flags.String("log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rdfproof v%s (%s)\n", version, commit)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file and create the data directory",
		RunE:  runInit,
	}
	initCmd.Flags().String("output", "rdfproof.yaml", "Configuration file to write")
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")
	rootCmd.AddCommand(initCmd)

	loadCmd := &cobra.Command{
		Use:   "load [file...]",
		Short: "Assert N-Quads files (\"-\" reads stdin)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runLoad,
	}
	loadCmd.Flags().Bool("delete", false, "Retract the statements instead of asserting them")
	rootCmd.AddCommand(loadCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "materialize",
		Short: "Recompute the implicit graph",
		Args:  cobra.NoArgs,
		RunE:  runMaterialize,
	})

	explainCmd := &cobra.Command{
		Use:   "explain [subject predicate object [context]]",
		Short: "Explain statements matching a pattern",
		Long: `Explain prints one row per premise: the rule, then the premise's subject,
predicate, object and context. Terms use N-Triples syntax or prefixed names;
"?x" leaves a position open.

With --batch, every non-empty line of the file is explained as one request.`,
		RunE: runExplain,
	}
	explainCmd.Flags().String("batch", "", "File with one request per line")
	explainCmd.Flags().Int("parallel", 4, "Concurrent requests in batch mode")
	explainCmd.Flags().Bool("json", false, "Print rows as JSON")
	rootCmd.AddCommand(explainCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE:  runConfig,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "rules",
		Short: "List the active rule catalog",
		Args:  cobra.NoArgs,
		RunE:  runRules,
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().String("address", "", "Address to bind (overrides config)")
	serveCmd.Flags().Int("port", 0, "HTTP port (overrides config)")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	f := cmd.Flags()
	if f.Changed("data-dir") {
		cfg.Storage.DataDir, _ = f.GetString("data-dir")
	}
	if f.Changed("ruleset") {
		cfg.Reasoning.Ruleset, _ = f.GetString("ruleset")
	}
	if f.Changed("ruleset-file") {
		cfg.Reasoning.RulesetFile, _ = f.GetString("ruleset-file")
	}
	if f.Changed("in-memory") {
		cfg.Storage.InMemory, _ = f.GetBool("in-memory")
	}
	if f.Changed("log-level") {
		cfg.Logging.Level, _ = f.GetString("log-level")
	}
	if f.Lookup("address") != nil && f.Changed("address") {
		cfg.Server.Address, _ = f.GetString("address")
	}
	if f.Lookup("port") != nil && f.Changed("port") {
		cfg.Server.Port, _ = f.GetInt("port")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openDB loads the configuration and opens the database with its logger.
func openDB(cmd *cobra.Command) (*rdfproof.DB, *config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Memory.ApplyRuntimeMemory(); err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Debug("configuration", zap.Stringer("config", cfg))
	db, err := rdfproof.Open(cfg, logger)
	if err != nil {
		logger.Sync()
		return nil, nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return db, cfg, logger, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(output); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", output)
	}
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(output, []byte(config.Template), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	cfg, err := config.LoadFile(output)
	if err != nil {
		return err
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("Wrote %s\n", output)
	fmt.Printf("Data directory: %s\n", cfg.Storage.DataDir)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Load data:      rdfproof --config %s load data.nq\n", output)
	fmt.Printf("  2. Explain:        rdfproof --config %s explain '?s rdf:type ?o'\n", output)
	fmt.Printf("  3. Start the API:  rdfproof --config %s serve\n", output)
	return nil
}

func runLoad(cmd *cobra.Command, args []string) error {
	remove, _ := cmd.Flags().GetBool("delete")

	db, _, logger, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer db.Close()

	ctx := cmd.Context()
	for _, path := range args {
		start := time.Now()
		res, err := loadFile(ctx, db, path, remove)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		verb := "asserted"
		if remove {
			verb = "retracted"
		}
		fmt.Printf("%s: read %d, %s %d in %v\n", path, res.Read, verb, res.Changed, time.Since(start).Round(time.Millisecond))
		if res.Materialized != nil {
			fmt.Printf("  materialized %d inferred statements (%d strata)\n",
				res.Materialized.Inferred, res.Materialized.Strata)
		}
	}
	return nil
}

func loadFile(ctx context.Context, db *rdfproof.DB, path string, remove bool) (rdfproof.WriteResult, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return rdfproof.WriteResult{}, err
		}
		defer f.Close()
		r = f
	}
	if remove {
		return db.DeleteNQuads(ctx, r)
	}
	return db.LoadNQuads(ctx, r)
}

func runMaterialize(cmd *cobra.Command, args []string) error {
	db, _, logger, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer db.Close()

	stats, err := db.Materialize(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Asserted:        %d\n", stats.Asserted)
	fmt.Printf("Inferred:        %d\n", stats.Inferred)
	fmt.Printf("Identity merged: %d\n", stats.IdentityMerged)
	fmt.Printf("Strata:          %d\n", stats.Strata)
	fmt.Printf("Duration:        %v\n", stats.Duration)
	return nil
}

// batchResult keeps one batch line with its rows.
type batchResult struct {
	Request string          `json:"request"`
	Rows    []explain.Tuple `json:"rows"`
}

func runExplain(cmd *cobra.Command, args []string) error {
	batch, _ := cmd.Flags().GetString("batch")
	parallel, _ := cmd.Flags().GetInt("parallel")
	asJSON, _ := cmd.Flags().GetBool("json")

	var lines []string
	switch {
	case batch != "":
		var err error
		if lines, err = readBatch(batch); err != nil {
			return err
		}
	case len(args) > 0:
		lines = []string{strings.Join(args, " ")}
	default:
		return fmt.Errorf("a pattern or --batch is required")
	}

	db, _, logger, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer db.Close()

	results := make([]batchResult, len(lines))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(parallel, 1))
	for i, line := range lines {
		g.Go(func() error {
			rows, err := db.ExplainText(ctx, line)
			if err != nil {
				return fmt.Errorf("%q: %w", line, err)
			}
			results[i] = batchResult{Request: line, Rows: rows}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if batch == "" {
			return enc.Encode(results[0].Rows)
		}
		return enc.Encode(results)
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	for _, res := range results {
		if batch != "" {
			fmt.Fprintf(w, "# %s\n", res.Request)
		}
		for _, row := range res.Rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", row.Rule, row.Subject, row.Predicate, row.Object, row.Context)
		}
		if len(res.Rows) == 0 {
			fmt.Fprintln(w, "# no justification")
		}
	}
	return nil
}

// readBatch returns the non-empty, non-comment lines of path.
func readBatch(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runRules(cmd *cobra.Command, args []string) error {
	db, _, logger, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer db.Close()

	cat := db.Rules()
	fmt.Printf("%s (%d rules, fingerprint %s)\n", cat.Name, cat.Len(), cat.Fingerprint()[:12])
	if cat.Description != "" {
		fmt.Println(cat.Description)
	}
	fmt.Println()
	for _, rule := range cat.Rules {
		fmt.Println(rule.String())
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	db, cfg, logger, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer db.Close()

	httpServer, err := server.New(db, server.ConfigFrom(cfg.Server), logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	stats, err := db.Stats(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("rdfproof v%s\n", version)
	fmt.Printf("  Ruleset:   %s (%d rules)\n", stats.Ruleset, stats.Rules)
	fmt.Printf("  Explicit:  %d\n", stats.Explicit)
	fmt.Printf("  Inferred:  %d\n", stats.Inferred)
	if limit, _ := cfg.Memory.LimitBytes(); limit > 0 {
		fmt.Printf("  Memory:    %s limit\n", config.FormatMemorySize(limit))
	}
	fmt.Printf("  HTTP API:  http://%s\n", httpServer.Addr())
	fmt.Printf("  Explain:   GET http://%s/explain?s=&p=&o=&c=\n", httpServer.Addr())
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	logger.Info("server stopped", zap.Duration("uptime", httpServer.Stats().Uptime))
	return nil
}
