// Package pipeline wires routing, synthesis, validation, and execution into
// the public entry point: one question in, one outcome or terminal error out.
// Recoverable failures (rejected drafts, transient execution errors) are
// handled inside the bounded refinement loop and never escape.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quarrydata/quarry/pkg/engine"
	"github.com/quarrydata/quarry/pkg/pipeline/metrics"
	"github.com/quarrydata/quarry/pkg/query"
	"github.com/quarrydata/quarry/pkg/router"
	"github.com/quarrydata/quarry/pkg/schema"
	"github.com/quarrydata/quarry/pkg/validate"
)

const (
	defaultMaxBuildRetries     = 3
	defaultMaxExecutionRetries = 3
)

// Pipeline stages, used in terminal errors and metrics.
const (
	StageSchema     = "schema"
	StageSynthesis  = "synthesis"
	StageValidation = "validation"
	StageExecution  = "execution"
)

// SchemaProvider supplies enriched schemas.
type SchemaProvider interface {
	Enrich(ctx context.Context, datasourceID string, opts schema.EnrichOptions) (*schema.EnrichedSchema, error)
}

// QueryBuilder synthesizes query drafts.
type QueryBuilder interface {
	Build(ctx context.Context, question string, sch *schema.EnrichedSchema, priorErrors []string) (*query.Query, error)
}

// QueryValidator checks drafts against the schema.
type QueryValidator interface {
	Validate(draft *query.Query, sch *schema.EnrichedSchema) validate.Result
}

// QueryExecutor runs validated queries.
type QueryExecutor interface {
	Execute(ctx context.Context, q *query.Query) (*engine.Result, error)
}

// Config configures a Pipeline.
type Config struct {
	Logger    *slog.Logger
	Router    router.Classifier
	Schemas   SchemaProvider
	Builder   QueryBuilder
	Validator QueryValidator
	Executor  QueryExecutor

	// MaxBuildRetries bounds synthesizer invocations per build cycle.
	MaxBuildRetries int
	// MaxExecutionRetries bounds full rebuilds after execution failures.
	MaxExecutionRetries int
}

// Validate checks the config and fills defaults.
func (c *Config) Validate() error {
	if c.Router == nil {
		return fmt.Errorf("router is required")
	}
	if c.Schemas == nil {
		return fmt.Errorf("schema provider is required")
	}
	if c.Builder == nil {
		return fmt.Errorf("builder is required")
	}
	if c.Validator == nil {
		return fmt.Errorf("validator is required")
	}
	if c.Executor == nil {
		return fmt.Errorf("executor is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxBuildRetries == 0 {
		c.MaxBuildRetries = defaultMaxBuildRetries
	}
	if c.MaxExecutionRetries == 0 {
		c.MaxExecutionRetries = defaultMaxExecutionRetries
	}
	return nil
}

// Request is one user question.
type Request struct {
	Question     string
	DatasourceID string
	// PriorResults holds the previous answer's rows when the caller keeps
	// conversation state; reformat requests are answered from them.
	PriorResults *engine.Result
}

// Outcome is a successful pipeline run.
type Outcome struct {
	Route  router.Type
	Reason string

	// Answer is set for schema questions answered from metadata alone.
	Answer string
	// Query and Results are set when a structured query was executed.
	Query   *query.Query
	Results *engine.Result
	// Attempts counts synthesizer invocations across the whole run.
	Attempts int
}

// PipelineError is the only error shape Run returns: a terminal failure
// carrying the last known errors and suggestions so the caller can render
// an actionable message.
type PipelineError struct {
	Stage       string
	Errors      []string
	Suggestions []string
	Err         error
}

func (e *PipelineError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("pipeline failed at %s: %s", e.Stage, strings.Join(e.Errors, "; "))
	}
	return fmt.Sprintf("pipeline failed at %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Pipeline answers analytics questions.
type Pipeline struct {
	log *slog.Logger
	cfg Config
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Pipeline{log: cfg.Logger, cfg: cfg}, nil
}

// Run processes one question to completion or terminal failure.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	decision := p.cfg.Router.Classify(ctx, req.Question, req.PriorResults != nil)
	metrics.QuestionsTotal.WithLabelValues(string(decision.Type)).Inc()
	p.log.Debug("question routed", "type", decision.Type, "reason", decision.Reason, "confidence", decision.Confidence)

	switch decision.Type {
	case router.TypeReformatPrevious:
		return &Outcome{
			Route:   decision.Type,
			Reason:  decision.Reason,
			Results: req.PriorResults,
		}, nil

	case router.TypeSchemaQuery:
		sch, err := p.enrich(ctx, req.DatasourceID)
		if err != nil {
			return nil, err
		}
		return &Outcome{
			Route:  decision.Type,
			Reason: decision.Reason,
			Answer: answerSchemaQuestion(req.Question, sch),
		}, nil
	}

	sch, err := p.enrich(ctx, req.DatasourceID)
	if err != nil {
		return nil, err
	}
	return p.refine(ctx, req.Question, sch, decision)
}

func (p *Pipeline) enrich(ctx context.Context, datasourceID string) (*schema.EnrichedSchema, error) {
	sch, err := p.cfg.Schemas.Enrich(ctx, datasourceID, schema.EnrichOptions{IncludeStatistics: true})
	if err != nil {
		metrics.TerminalFailuresTotal.WithLabelValues(StageSchema).Inc()
		return nil, &PipelineError{Stage: StageSchema, Errors: []string{err.Error()}, Err: err}
	}
	return sch, nil
}

// refine is the bounded build/validate/execute state machine. Validation
// failures re-invoke the synthesizer with the accumulated error list, up to
// MaxBuildRetries synthesizer calls per cycle. Execution failures other than
// auth, timeout and cancellation restart the cycle from synthesis with a
// fresh build budget, up to MaxExecutionRetries cycles.
func (p *Pipeline) refine(ctx context.Context, question string, sch *schema.EnrichedSchema, decision router.Decision) (*Outcome, error) {
	var priorErrors []string
	attempts := 0

	for execAttempt := 1; ; execAttempt++ {
		validated, res, err := p.buildCycle(ctx, question, sch, priorErrors, &attempts)
		if err != nil {
			return nil, err
		}

		result, execErr := p.cfg.Executor.Execute(ctx, validated)
		if execErr == nil {
			return &Outcome{
				Route:    decision.Type,
				Reason:   decision.Reason,
				Query:    validated,
				Results:  result,
				Attempts: attempts,
			}, nil
		}

		kind := engine.AsExecutionError(execErr).Kind
		if kind == engine.KindAuth || kind == engine.KindTimeout || kind == engine.KindCanceled {
			metrics.TerminalFailuresTotal.WithLabelValues(StageExecution).Inc()
			return nil, &PipelineError{
				Stage:       StageExecution,
				Errors:      []string{execErr.Error()},
				Suggestions: res.Suggestions,
				Err:         execErr,
			}
		}
		if execAttempt >= p.cfg.MaxExecutionRetries {
			metrics.TerminalFailuresTotal.WithLabelValues(StageExecution).Inc()
			return nil, &PipelineError{
				Stage:  StageExecution,
				Errors: []string{execErr.Error()},
				Err:    execErr,
			}
		}

		p.log.Info("execution failed, rebuilding query",
			"kind", kind, "attempt", execAttempt, "error", execErr)
		priorErrors = append(priorErrors, fmt.Sprintf("execution failed: %v", execErr))
	}
}

// buildCycle synthesizes and validates until a draft passes or the build
// budget is exhausted. The returned validate.Result is the last one seen.
func (p *Pipeline) buildCycle(ctx context.Context, question string, sch *schema.EnrichedSchema, priorErrors []string, attempts *int) (*query.Query, validate.Result, error) {
	var last validate.Result
	errs := append([]string(nil), priorErrors...)

	for buildAttempt := 1; ; buildAttempt++ {
		if buildAttempt > 1 {
			metrics.SynthesisRetriesTotal.Inc()
		}
		*attempts++

		draft, err := p.cfg.Builder.Build(ctx, question, sch, errs)
		if err != nil {
			p.log.Info("synthesis failed", "attempt", buildAttempt, "error", err)
			errs = append(errs, err.Error())
			if buildAttempt >= p.cfg.MaxBuildRetries {
				metrics.TerminalFailuresTotal.WithLabelValues(StageSynthesis).Inc()
				return nil, last, &PipelineError{Stage: StageSynthesis, Errors: errs, Err: err}
			}
			continue
		}

		last = p.cfg.Validator.Validate(draft, sch)
		if last.Valid {
			return draft, last, nil
		}

		metrics.ValidationFailuresTotal.Inc()
		p.log.Info("draft rejected", "attempt", buildAttempt, "errors", len(last.Errors))
		errs = append(errs, last.Errors...)
		if buildAttempt >= p.cfg.MaxBuildRetries {
			metrics.TerminalFailuresTotal.WithLabelValues(StageValidation).Inc()
			return nil, last, &PipelineError{
				Stage:       StageValidation,
				Errors:      last.Errors,
				Suggestions: last.Suggestions,
			}
		}
	}
}
