// Package orchestrator runs the admin decision loop: ask the model for a
// command, validate and execute it, re-prompt on recoverable failures and
// summarize the result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"hostel-assistant/internal/assistant/executor"
	"hostel-assistant/internal/assistant/extractor"
	"hostel-assistant/internal/assistant/gateway"
	"hostel-assistant/internal/audit"
	"hostel-assistant/internal/common/config"
	"hostel-assistant/internal/common/logger"
	"hostel-assistant/internal/common/metrics"
	"hostel-assistant/internal/common/observability"
	"hostel-assistant/internal/models"
)

var ErrRetriesExhausted = errors.New("RETRIES_EXHAUSTED")

const (
	LabelProcessed     = "Query processed"
	LabelInvalid       = "Invalid Command"
	LabelDatabaseError = "Database Error"

	RefusalMessage        = "Deleting or replacing records is not permitted. I can look up or update records for you instead."
	InvalidCommandMessage = "I generated an invalid database command. Please try asking differently."
	executionFailedPrefix = "I attempted to run the query but failed: "
)

// Runner executes a validated command.
type Runner interface {
	Run(ctx context.Context, cmd *models.Command) (*models.ExecutionOutcome, error)
}

// Summarizer describes an execution outcome in plain language.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string, outcome *models.ExecutionOutcome) (string, error)
}

type Config struct {
	HostelName   string
	MaxRetries   int
	Timeout      time.Duration
	HistoryLimit int
}

func ConfigFrom(c config.AssistantConfig) Config {
	return Config{
		HostelName:   c.HostelName,
		MaxRetries:   c.MaxRetries,
		Timeout:      time.Duration(c.Timeout) * time.Millisecond,
		HistoryLimit: c.HistoryLimit,
	}
}

// Response is the admin-facing result of one cycle.
type Response struct {
	Label    string
	Text     string
	IsAction bool
	Outcome  models.AuditOutcome
	Attempts int
}

type state int

const (
	stateAwaitingDecision state = iota
	stateCommandReady
	stateParseFailed
	stateInvalidCommand
	stateExecutionFailed
	stateText
	stateExecuted
	stateRefused
	stateExhausted
)

func (s state) String() string {
	switch s {
	case stateAwaitingDecision:
		return "awaiting_decision"
	case stateCommandReady:
		return "command_ready"
	case stateParseFailed:
		return "parse_failed"
	case stateInvalidCommand:
		return "invalid_command"
	case stateExecutionFailed:
		return "execution_failed"
	case stateText:
		return "text"
	case stateExecuted:
		return "executed"
	case stateRefused:
		return "refused"
	case stateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// retryState lives for a single Process call.
type retryState struct {
	attempt    int
	lastFailed state
	lastReason string
}

type Orchestrator struct {
	gateway    gateway.Gateway
	runner     Runner
	summarizer Summarizer
	recorder   audit.Recorder
	cfg        Config
	obs        *observability.Observability
	now        func() time.Time
	logger     logger.Logger
}

type Option func(*Orchestrator)

func WithObservability(obs *observability.Observability) Option {
	return func(o *Orchestrator) { o.obs = obs }
}

// WithClock overrides the time embedded in the decision instruction.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(gw gateway.Gateway, runner Runner, summarizer Summarizer, recorder audit.Recorder, cfg Config, log logger.Logger, opts ...Option) *Orchestrator {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HostelName == "" {
		cfg.HostelName = "Gravity Hostel"
	}
	if recorder == nil {
		recorder = audit.Nop()
	}
	o := &Orchestrator{
		gateway:    gw,
		runner:     runner,
		summarizer: summarizer,
		recorder:   recorder,
		cfg:        cfg,
		now:        time.Now,
		logger:     log.With(map[string]interface{}{"component": "orchestrator"}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs one admin cycle. A returned error means the cycle could not
// produce an answer: a gateway or summarizer failure, the deadline, or
// ErrRetriesExhausted after repeated unparseable replies.
func (o *Orchestrator) Process(ctx context.Context, turn models.ConversationTurn) (*Response, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	entry := &models.AuditEntry{
		ID:        uuid.NewString(),
		RequestID: turn.RequestID,
		UserID:    turn.UserID,
		Prompt:    turn.Prompt,
		Timestamp: start.UTC(),
	}

	resp, err := o.traced(ctx, turn, entry)

	entry.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		if entry.Outcome == "" {
			entry.Outcome = models.OutcomeError
		}
		entry.Error = err.Error()
	}
	o.finish(ctx, entry, time.Since(start))

	if err != nil {
		o.logger.Error("admin cycle failed", map[string]interface{}{
			"requestId": turn.RequestID,
			"attempts":  entry.Attempts,
			"error":     err.Error(),
		})
		return nil, err
	}
	resp.Attempts = entry.Attempts
	return resp, nil
}

func (o *Orchestrator) traced(ctx context.Context, turn models.ConversationTurn, entry *models.AuditEntry) (*Response, error) {
	if o.obs == nil {
		return o.run(ctx, turn, entry)
	}

	ctx, span := o.obs.StartSpan(ctx, "admin.process",
		attribute.String("request.id", turn.RequestID),
		attribute.Int("history.length", len(turn.History)),
	)
	defer span.End()

	resp, err := o.run(ctx, turn, entry)
	span.SetAttributes(
		attribute.String("outcome", string(entry.Outcome)),
		attribute.Int("attempts", entry.Attempts),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (o *Orchestrator) run(ctx context.Context, turn models.ConversationTurn, entry *models.AuditEntry) (*Response, error) {
	instruction := decisionInstruction(o.cfg.HostelName, o.now(), turn.RecentHistory(o.cfg.HistoryLimit))

	var (
		rs      retryState
		prompt  = turn.Prompt
		st      = stateAwaitingDecision
		reply   string
		result  extractor.Result
		cmd     *models.Command
		outcome *models.ExecutionOutcome
		err     error
	)

	for {
		switch st {
		case stateAwaitingDecision:
			reply, err = o.gateway.Generate(ctx, prompt, instruction)
			rs.attempt++
			entry.Attempts = rs.attempt
			if err != nil {
				return nil, err
			}

			result = extractor.Extract(reply)
			switch result.Kind {
			case extractor.KindText:
				st = stateText
			case extractor.KindParseError:
				rs.lastReason = result.Error
				st = stateParseFailed
			default:
				cmd, err = executor.Validate(result.Object)
				switch {
				case errors.Is(err, executor.ErrForbiddenOperation):
					rs.lastReason = err.Error()
					st = stateRefused
				case err != nil:
					rs.lastReason = err.Error()
					st = stateInvalidCommand
				default:
					st = stateCommandReady
				}
			}
			o.logger.Debug("decision received", map[string]interface{}{
				"requestId": turn.RequestID,
				"attempt":   rs.attempt,
				"next":      st.String(),
			})

		case stateCommandReady:
			entry.EntityName = cmd.EntityName
			entry.Operation = cmd.Operation
			entry.Filter = cmd.Filter
			entry.Update = cmd.Update
			entry.Explanation = cmd.Explanation

			outcome, err = o.runner.Run(ctx, cmd)
			if err != nil {
				rs.lastReason = err.Error()
				st = stateExecutionFailed
				continue
			}
			entry.Matched, entry.Modified = outcome.Matched, outcome.Modified
			st = stateExecuted

		case stateParseFailed, stateInvalidCommand, stateExecutionFailed:
			rs.lastFailed = st
			if rs.attempt > o.cfg.MaxRetries {
				st = stateExhausted
				continue
			}

			var reason string
			switch st {
			case stateParseFailed:
				reason = "parse"
				prompt = parseRetryPrompt(turn.Prompt, result.Raw, result.Error)
			case stateInvalidCommand:
				reason = "invalid"
				metrics.RejectedCommands.WithLabelValues("invalid").Inc()
				prompt = correctionPrompt(turn.Prompt, reply, rs.lastReason)
			default:
				reason = "execution"
				prompt = correctionPrompt(turn.Prompt, reply, rs.lastReason)
			}
			metrics.RetriesTotal.WithLabelValues(reason).Inc()
			o.logger.Warn("re-prompting model", map[string]interface{}{
				"requestId": turn.RequestID,
				"attempt":   rs.attempt,
				"reason":    reason,
				"error":     rs.lastReason,
			})
			st = stateAwaitingDecision

		case stateText:
			entry.Outcome = models.OutcomeText
			return &Response{Label: LabelProcessed, Text: result.Text, Outcome: models.OutcomeText}, nil

		case stateRefused:
			metrics.RejectedCommands.WithLabelValues("forbidden").Inc()
			entry.Outcome = models.OutcomeRefused
			entry.Error = rs.lastReason
			o.logger.Warn("destructive command refused", map[string]interface{}{
				"requestId": turn.RequestID,
				"error":     rs.lastReason,
			})
			return &Response{Label: LabelProcessed, Text: RefusalMessage, Outcome: models.OutcomeRefused}, nil

		case stateExecuted:
			text, err := o.summarizer.Summarize(ctx, turn.Prompt, outcome)
			if err != nil {
				entry.Outcome = models.OutcomeError
				return nil, fmt.Errorf("summarize: %w", err)
			}
			entry.Outcome = models.OutcomeExecuted
			entry.IsAction = true
			return &Response{Label: LabelProcessed, Text: text, IsAction: true, Outcome: models.OutcomeExecuted}, nil

		case stateExhausted:
			return o.exhausted(rs, entry)
		}
	}
}

func (o *Orchestrator) exhausted(rs retryState, entry *models.AuditEntry) (*Response, error) {
	entry.Error = rs.lastReason
	switch rs.lastFailed {
	case stateInvalidCommand:
		entry.Outcome = models.OutcomeInvalid
		return &Response{Label: LabelInvalid, Text: InvalidCommandMessage, Outcome: models.OutcomeInvalid}, nil
	case stateExecutionFailed:
		entry.Outcome = models.OutcomeFailed
		entry.IsAction = true
		return &Response{
			Label:    LabelDatabaseError,
			Text:     executionFailedPrefix + sanitize(rs.lastReason),
			IsAction: true,
			Outcome:  models.OutcomeFailed,
		}, nil
	default:
		entry.Outcome = models.OutcomeExhausted
		return nil, fmt.Errorf("%w: after %d attempts: %s", ErrRetriesExhausted, rs.attempt, rs.lastReason)
	}
}

// finish records the audit entry and the cycle metrics. The audit write
// gets its own short deadline so a timed-out cycle is still recorded.
func (o *Orchestrator) finish(ctx context.Context, entry *models.AuditEntry, elapsed time.Duration) {
	outcome := string(entry.Outcome)
	metrics.PromptsProcessed.WithLabelValues("admin", outcome).Inc()
	metrics.PromptDuration.WithLabelValues("admin").Observe(elapsed.Seconds())
	if entry.Attempts > 0 {
		metrics.DecisionAttempts.WithLabelValues(outcome).Observe(float64(entry.Attempts))
	}
	if o.obs != nil {
		o.obs.RecordPromptProcessed(ctx, "admin", outcome)
		o.obs.RecordPromptDuration(ctx, "admin", elapsed)
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.recorder.Record(auditCtx, entry); err != nil {
		o.logger.Warn("audit record failed", map[string]interface{}{
			"auditId": entry.ID,
			"error":   err.Error(),
		})
	}
}

var codePrefix = regexp.MustCompile(`^[A-Z][A-Z_]+: `)

// sanitize strips error-code and driver prefixes from a store error.
func sanitize(msg string) string {
	for {
		trimmed := codePrefix.ReplaceAllString(msg, "")
		trimmed = strings.TrimPrefix(trimmed, "pq: ")
		if trimmed == msg {
			return strings.TrimSpace(msg)
		}
		msg = trimmed
	}
}
