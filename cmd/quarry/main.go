package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/quarrydata/quarry/pkg/engine"
	"github.com/quarrydata/quarry/pkg/executor"
	"github.com/quarrydata/quarry/pkg/llm"
	"github.com/quarrydata/quarry/pkg/logger"
	"github.com/quarrydata/quarry/pkg/pipeline"
	"github.com/quarrydata/quarry/pkg/router"
	"github.com/quarrydata/quarry/pkg/schema"
	"github.com/quarrydata/quarry/pkg/synth"
	"github.com/quarrydata/quarry/pkg/validate"
)

var (
	// Set by LDFLAGS
	version = "dev"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := pflag.Bool("verbose", false, "Enable verbose (debug) logging")
	datasourceFlag := pflag.String("datasource", "", "Datasource id (table name for the clickhouse engine)")
	engineFlag := pflag.String("engine", "clickhouse", "Analytics engine: 'clickhouse' or 'http'")
	engineURLFlag := pflag.String("engine-url", "", "Base URL of the HTTP analytics engine (or set QUARRY_ENGINE_URL)")
	metricsAddrFlag := pflag.String("metrics-addr", "", "Address to listen on for prometheus metrics (empty disables)")

	clickhouseAddrFlag := pflag.String("clickhouse-addr", "localhost:9000", "ClickHouse server address (or set CLICKHOUSE_ADDR)")
	clickhouseDatabaseFlag := pflag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE)")
	clickhouseUsernameFlag := pflag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME)")
	clickhousePasswordFlag := pflag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD)")

	modelFlag := pflag.String("model", "claude-sonnet-4-20250514", "Anthropic model for synthesis")
	maxTokensFlag := pflag.Int("max-tokens", 4096, "Max completion tokens")
	llmRouterFlag := pflag.Bool("llm-router", false, "Classify questions with the model instead of the rule-based router")
	pflag.Parse()

	// Best effort; ANTHROPIC_API_KEY and the engine settings may live in .env.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)
	log.Debug("starting quarry", "version", version)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *metricsAddrFlag != "" {
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	datasource := envOr("QUARRY_DATASOURCE", *datasourceFlag)
	if datasource == "" {
		return errors.New("a datasource is required (--datasource or QUARRY_DATASOURCE)")
	}

	eng, err := newEngine(ctx, log, *engineFlag, *engineURLFlag,
		envOr("CLICKHOUSE_ADDR", *clickhouseAddrFlag),
		envOr("CLICKHOUSE_DATABASE", *clickhouseDatabaseFlag),
		envOr("CLICKHOUSE_USERNAME", *clickhouseUsernameFlag),
		envOr("CLICKHOUSE_PASSWORD", *clickhousePasswordFlag))
	if err != nil {
		return err
	}

	schemas, err := schema.NewProvider(&schema.ProviderConfig{
		Logger: log,
		Engine: eng,
	})
	if err != nil {
		return fmt.Errorf("failed to create schema provider: %w", err)
	}

	llmClient := llm.NewAnthropicClient(log, anthropic.Model(*modelFlag), int64(*maxTokensFlag))

	builder, err := synth.New(synth.Config{Logger: log, Client: llmClient})
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}

	exec, err := executor.New(executor.Config{Logger: log, Engine: eng})
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}
	defer exec.Close()

	var classifier router.Classifier = router.NewDefault()
	if *llmRouterFlag {
		classifier = router.NewLLMRouter(log, llmClient, nil)
	}

	p, err := pipeline.New(pipeline.Config{
		Logger:    log,
		Router:    classifier,
		Schemas:   schemas,
		Builder:   builder,
		Validator: validate.New(validate.Config{}),
		Executor:  exec,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	if question := strings.Join(pflag.Args(), " "); question != "" {
		return ask(ctx, p, datasource, question, nil)
	}
	return repl(ctx, p, datasource)
}

func newEngine(ctx context.Context, log *slog.Logger, kind, engineURL, addr, database, username, password string) (engine.Engine, error) {
	switch kind {
	case "clickhouse":
		return engine.NewClickHouseEngine(ctx, engine.ClickHouseConfig{
			Logger:   log,
			Addr:     addr,
			Database: database,
			Username: username,
			Password: password,
		})
	case "http":
		engineURL = envOr("QUARRY_ENGINE_URL", engineURL)
		if engineURL == "" {
			return nil, errors.New("--engine-url is required with the http engine")
		}
		return engine.NewHTTPEngineWithAuth(engineURL, username, password), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", kind)
	}
}

// repl answers questions from stdin until EOF, keeping the last results so
// reformat questions have something to reference.
func repl(ctx context.Context, p *pipeline.Pipeline, datasource string) error {
	fmt.Println("quarry: ask a question (ctrl-d to exit)")
	scanner := bufio.NewScanner(os.Stdin)
	var prior *engine.Result

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		out, err := p.Run(ctx, pipeline.Request{
			Question:     question,
			DatasourceID: datasource,
			PriorResults: prior,
		})
		if err != nil {
			printError(err)
			continue
		}
		printOutcome(out)
		if out.Results != nil {
			prior = out.Results
		}
	}
}

func ask(ctx context.Context, p *pipeline.Pipeline, datasource, question string, prior *engine.Result) error {
	out, err := p.Run(ctx, pipeline.Request{
		Question:     question,
		DatasourceID: datasource,
		PriorResults: prior,
	})
	if err != nil {
		printError(err)
		return errors.New("question failed")
	}
	printOutcome(out)
	return nil
}

func printOutcome(out *pipeline.Outcome) {
	if out.Answer != "" {
		fmt.Println(out.Answer)
		return
	}
	if out.Results == nil {
		fmt.Println("(no results)")
		return
	}
	if out.Results.Degraded {
		fmt.Println("note: results were row-capped after engine failures")
	}
	if out.Results.Stale {
		fmt.Println("note: results are from an earlier run; the engine is unavailable")
	}
	printTable(out.Results)
}

func printTable(res *engine.Result) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(res.Columns, "\t"))
	for _, row := range res.Data {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprint(v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
	fmt.Printf("(%d rows)\n", res.RowCount)
}

func printError(err error) {
	var perr *pipeline.PipelineError
	if errors.As(err, &perr) {
		fmt.Printf("failed at %s:\n", perr.Stage)
		for _, e := range perr.Errors {
			fmt.Printf("  - %s\n", e)
		}
		for _, s := range perr.Suggestions {
			fmt.Printf("  suggestion: %s\n", s)
		}
		return
	}
	fmt.Printf("error: %v\n", err)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
