package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/chenapple/thesaurus-management/internal/agent"
	"github.com/chenapple/thesaurus-management/internal/llm"
	"github.com/chenapple/thesaurus-management/internal/notify"
	"github.com/chenapple/thesaurus-management/internal/tools"
	"github.com/chenapple/thesaurus-management/pkg/log"
)

const (
	DefaultTargetACOS = 30.0
	DefaultCallDelay  = 500 * time.Millisecond
)

// Observer receives run, target and agent outcomes, e.g. for metrics
type Observer interface {
	RunStarted()
	RunFinished(status string, elapsed time.Duration)
	TargetFinished(country string, ok bool, elapsed time.Duration)
	AgentFinished(role string, ok bool, elapsed time.Duration)
}

// Callbacks deliver progress to the caller.
// OnSessionUpdate is throttled; OnTargetComplete fires once per completed target.
type Callbacks struct {
	OnSessionUpdate  func(Snapshot)
	OnTargetComplete func(country string, result TargetResult)
}

// RunRequest is the input of one analysis run
type RunRequest struct {
	Terms      []SearchTerm
	TargetACOS float64
	// SkipCountries are targets completed by an earlier run
	SkipCountries []string
	Callbacks     Callbacks
}

// Coordinator runs the four-role pipeline over every target of a dataset
type Coordinator struct {
	provider         llm.Provider
	roles            *RoleCatalog
	model            string
	maxTokens        int
	sampleSize       int
	maxIterations    int
	callDelay        time.Duration
	sessionInterval  time.Duration
	progressInterval time.Duration
	clock            notify.Clock
	guard            *RunGuard
	observer         Observer
	extraTools       []tools.Tool

	mu      sync.Mutex
	current *Session
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithRunGuard replaces the process-wide run guard
func WithRunGuard(g *RunGuard) Option {
	return func(c *Coordinator) {
		c.guard = g
	}
}

func WithClock(clock notify.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

func WithRoles(roles *RoleCatalog) Option {
	return func(c *Coordinator) {
		c.roles = roles
	}
}

// WithModel overrides the provider's default model and output-token ceiling
func WithModel(model string, maxTokens int) Option {
	return func(c *Coordinator) {
		c.model = model
		c.maxTokens = maxTokens
	}
}

func WithSampleSize(n int) Option {
	return func(c *Coordinator) {
		c.sampleSize = n
	}
}

// WithMaxIterations overrides the iteration limit of every role when n > 0
func WithMaxIterations(n int) Option {
	return func(c *Coordinator) {
		c.maxIterations = n
	}
}

// WithTools offers additional tools to the roles that name them
func WithTools(extra ...tools.Tool) Option {
	return func(c *Coordinator) {
		c.extraTools = append(c.extraTools, extra...)
	}
}

// WithCallDelay sets the pause between consecutive targets
func WithCallDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.callDelay = d
	}
}

// WithNotifyIntervals sets the throttle windows of session and stream-progress updates
func WithNotifyIntervals(session, progress time.Duration) Option {
	return func(c *Coordinator) {
		c.sessionInterval = session
		c.progressInterval = progress
	}
}

// NewCoordinator creates a coordinator using the embedded role catalogue unless WithRoles is given
func NewCoordinator(provider llm.Provider, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		provider:         provider,
		sampleSize:       DefaultSampleSize,
		callDelay:        DefaultCallDelay,
		sessionInterval:  notify.SessionInterval,
		progressInterval: notify.ProgressInterval,
		clock:            notify.RealClock(),
		guard:            defaultGuard,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.roles == nil {
		roles, err := DefaultRoles()
		if err != nil {
			return nil, NewErrorWithCause(ErrConfig, "failed to load role catalogue", err)
		}
		c.roles = roles
	}
	if c.provider == nil {
		return nil, NewError(ErrConfig, "model provider is required")
	}
	return c, nil
}

// Stop signals the active run to stop. It reports whether a run was active.
func (c *Coordinator) Stop() bool {
	return c.guard.Stop()
}

// IsRunning reports whether a run is active
func (c *Coordinator) IsRunning() bool {
	return c.guard.Active()
}

// Current returns a snapshot of the latest session
func (c *Coordinator) Current() (Snapshot, bool) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// Run analyzes every target of the request sequentially.
//
// The returned snapshot is the final session state. A cancelled run returns the merged result of the
// targets completed so far together with an ErrCancelled error. A run where every target failed
// returns an ErrAllTargetsFailed error. Failures of individual targets are listed in
// Snapshot.Progress.Failed and do not produce an error.
func (c *Coordinator) Run(ctx context.Context, req RunRequest) (Snapshot, error) {
	ctx, release := c.guard.Acquire(ctx)
	defer release()

	r := c.newRun(req)
	defer r.notifier.Stop()
	return r.execute(ctx)
}

// RetryFailed reruns the failed targets of an earlier run and merges them into its result.
// Every record of req.Terms outside failed is ignored and no skip list applies.
func (c *Coordinator) RetryFailed(ctx context.Context, req RunRequest, failed []string, existing *MergedResult) (Snapshot, error) {
	order := Partition(req.Terms).Targets

	retry := req
	retry.Terms = FilterCountries(req.Terms, failed)
	retry.SkipCountries = nil
	log.Info("Retrying %d failed targets: %s", len(failed), strings.Join(failed, ", "))

	snap, err := c.Run(ctx, retry)

	var retried []TargetResult
	if snap.FinalResult != nil {
		retried = snap.FinalResult.ByCountry
	}
	if existing != nil || len(retried) > 0 {
		snap.FinalResult = MergeRetry(existing, retried, order)
	}
	return snap, err
}

// RunSingleAgent runs one analyst role on its own and returns its decoded answer
func (c *Coordinator) RunSingleAgent(ctx context.Context, role Role, terms []SearchTerm, targetACOS float64) (json.RawMessage, error) {
	if role == RoleIntegrator {
		return nil, NewError(ErrValidation, "the integrator needs the analysts' answers and cannot run alone")
	}
	if _, ok := c.roles.Spec(role); !ok {
		return nil, NewError(ErrValidation, fmt.Sprintf("unknown role %q", role))
	}

	ctx, release := c.guard.Acquire(ctx)
	defer release()

	r := c.newRun(RunRequest{Terms: terms, TargetACOS: targetACOS})
	defer r.notifier.Stop()

	country := ""
	if parts := Partition(terms); len(parts.Targets) > 0 {
		country = parts.Targets[0]
		terms = parts.ByTarget[country]
	}
	data := r.targetData(country, terms)
	r.session.update(func(s *Snapshot) {
		s.Status = StatusRunning
		s.CurrentTarget = country
	})

	raw, err := r.runAnalyst(ctx, role, data, NewQueryTool(terms, data.Currency))
	status := StatusCompleted
	switch {
	case err != nil && ctx.Err() != nil:
		status = StatusCancelled
		err = classify(err, country)
	case err != nil:
		status = StatusError
		err = classify(err, country)
	}
	r.finish(status, err)
	return raw, err
}

func (c *Coordinator) newRun(req RunRequest) *run {
	if req.TargetACOS <= 0 {
		req.TargetACOS = DefaultTargetACOS
	}
	session := NewSession(req.TargetACOS, c.roles.Names(), c.clock.Now())

	c.mu.Lock()
	c.current = session
	c.mu.Unlock()

	r := &run{c: c, req: req, session: session, started: c.clock.Now()}
	r.notifier = notify.NewThrottler(c.clock, c.sessionInterval, func() {
		if req.Callbacks.OnSessionUpdate != nil {
			req.Callbacks.OnSessionUpdate(session.Snapshot())
		}
	})
	return r
}

// run is the state of one Run call
type run struct {
	c        *Coordinator
	req      RunRequest
	session  *Session
	notifier *notify.Throttler
	started  time.Time
}

func (r *run) execute(ctx context.Context) (Snapshot, error) {
	if r.c.observer != nil {
		r.c.observer.RunStarted()
	}
	log.Info("Starting analysis %s: %d records, provider %s", r.session.ID(), len(r.req.Terms), r.c.provider.Name())

	parts := Partition(r.req.Terms)
	if parts.Unknown > 0 {
		log.Warn("Skipping %d records without a country", parts.Unknown)
	}
	targets := parts.Without(r.req.SkipCountries)
	if skipped := len(parts.Targets) - len(targets); skipped > 0 {
		log.Info("Skipping %d completed targets: %s", skipped, strings.Join(r.req.SkipCountries, ", "))
	}

	r.session.update(func(s *Snapshot) {
		s.Status = StatusRunning
		s.UnknownSkipped = parts.Unknown
		s.Progress = TargetProgress{
			Total:     len(parts.Targets),
			Completed: len(parts.Targets) - len(targets),
			Targets:   append([]string{}, parts.Targets...),
			Failed:    []string{},
		}
	})
	r.notifier.Flush()

	if len(targets) == 0 {
		log.Info("No targets left to analyze")
		return r.finish(StatusCompleted, nil)
	}

	var results []TargetResult
	var failed []string

	for i, country := range targets {
		if i > 0 {
			if err := r.pause(ctx); err != nil {
				return r.cancelled(ctx, results)
			}
		}
		if ctx.Err() != nil {
			return r.cancelled(ctx, results)
		}

		log.Info("Analyzing target %d/%d: %s", i+1, len(targets), country)
		started := r.c.clock.Now()
		result, err := r.runTarget(ctx, country, parts.ByTarget[country])
		elapsed := r.c.clock.Now().Sub(started)

		if err != nil {
			if ctx.Err() != nil || errors.Is(err, agent.ErrCancelled) {
				log.Info("Analysis cancelled during %s", country)
				return r.cancelled(ctx, results)
			}

			aErr := classify(err, country)
			log.Error("Target %s failed: %v", country, aErr)
			if hint := failureHint(err); hint != "" {
				log.Warn("Target %s: %s", country, hint)
			}
			if r.c.observer != nil {
				r.c.observer.TargetFinished(country, false, elapsed)
			}

			failed = append(failed, country)
			r.session.update(func(s *Snapshot) {
				s.Progress.Failed = append(s.Progress.Failed, country)
			})
			r.notifier.Flush()
			continue
		}

		results = append(results, result)
		merged := MergeTargets(results)
		r.session.update(func(s *Snapshot) {
			s.PartialResults = append(s.PartialResults, result)
			s.Progress.Completed++
			s.FinalResult = merged
		})
		if r.c.observer != nil {
			r.c.observer.TargetFinished(country, true, elapsed)
		}
		if r.req.Callbacks.OnTargetComplete != nil {
			r.req.Callbacks.OnTargetComplete(country, result)
		}
		log.Info("Target %s completed: %d negative words, %d bid adjustments, %d opportunities",
			country, len(result.NegativeWords), len(result.BidAdjustments), len(result.KeywordOpportunities))
		r.notifier.Flush()
	}

	if len(results) == 0 {
		err := NewError(ErrAllTargetsFailed, "all targets failed").WithContext("failed", strings.Join(failed, ","))
		return r.finish(StatusError, err)
	}
	if len(failed) > 0 {
		log.Warn("Analysis finished with %d failed targets: %s", len(failed), strings.Join(failed, ", "))
		return r.finish(StatusPartial, nil)
	}
	return r.finish(StatusCompleted, nil)
}

// runTarget runs the three analysts concurrently, then the integrator on their answers
func (r *run) runTarget(ctx context.Context, country string, terms []SearchTerm) (TargetResult, error) {
	r.session.resetAgents()
	r.session.update(func(s *Snapshot) {
		s.CurrentTarget = country
	})
	r.notifier.Flush()

	data := r.targetData(country, terms)
	query := NewQueryTool(terms, data.Currency)

	analyses := make(map[Role]json.RawMessage, len(AnalystRoles))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, role := range AnalystRoles {
		g.Go(func() error {
			raw, err := r.runAnalyst(gctx, role, data, query)
			if err != nil {
				return err
			}
			mu.Lock()
			analyses[role] = raw
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return TargetResult{}, err
	}

	report, err := r.runIntegrator(ctx, data, analyses)
	if err != nil {
		return TargetResult{}, err
	}
	return FinalizeTarget(country, report, data.TotalSpend, data.Sampling), nil
}

func (r *run) targetData(country string, terms []SearchTerm) targetData {
	sampled := SmartSample(terms, r.req.TargetACOS, r.c.sampleSize)
	sampling := SamplingInfo{Total: len(terms), Sampled: len(sampled), Applied: len(sampled) < len(terms)}
	if sampling.Applied {
		log.Info("Sampled %d of %d records for %s", sampling.Sampled, sampling.Total, country)
	}
	spend, sales := Totals(terms)

	return targetData{
		Country:    country,
		Currency:   CurrencyFor(country),
		Language:   LanguageName(DetectMarketLanguage(terms)),
		TargetACOS: r.req.TargetACOS,
		Sampling:   sampling,
		Terms:      sampled,
		TotalSpend: spend,
		TotalSales: sales,
	}
}

func (r *run) runAnalyst(ctx context.Context, role Role, data targetData, query tools.Tool) (json.RawMessage, error) {
	started := r.c.clock.Now()
	res, err := r.runAgent(ctx, role, analystData(role, data), query)
	if err != nil {
		return nil, r.agentFailed(role, started, err)
	}

	var raw json.RawMessage
	if err := ParseStructured(res.Output, &raw); err != nil {
		return nil, r.agentFailed(role, started, err)
	}
	r.agentCompleted(role, started, raw)
	return raw, nil
}

func (r *run) runIntegrator(ctx context.Context, data targetData, analyses map[Role]json.RawMessage) (*Report, error) {
	started := r.c.clock.Now()
	res, err := r.runAgent(ctx, RoleIntegrator, integratorData(data, analyses), nil)
	if err != nil {
		return nil, r.agentFailed(RoleIntegrator, started, err)
	}

	report, err := ParseReport(res.Output)
	if err != nil {
		return nil, r.agentFailed(RoleIntegrator, started, err)
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return nil, r.agentFailed(RoleIntegrator, started, err)
	}
	r.agentCompleted(RoleIntegrator, started, raw)
	return report, nil
}

// runAgent executes one role and converts an unsuccessful result into an error
func (r *run) runAgent(ctx context.Context, role Role, data promptData, query tools.Tool) (*agent.Result, error) {
	spec, ok := r.c.roles.Spec(role)
	if !ok {
		return nil, NewError(ErrConfig, fmt.Sprintf("role %s is not defined", role))
	}
	prompt, err := spec.Render(data)
	if err != nil {
		return nil, NewErrorWithCause(ErrConfig, "failed to build prompt", err)
	}

	var available []tools.Tool
	if query != nil {
		available = append(available, query)
	}
	available = append(available, r.c.extraTools...)
	def := spec.Definition(r.c.model, r.c.maxTokens, available...)
	if r.c.maxIterations > 0 {
		def.MaxIterations = r.c.maxIterations
	}

	now := r.c.clock.Now()
	r.session.updateAgent(role, func(a *AgentState) {
		a.Status = AgentRunning
		a.Progress = 0
		a.Message = "Starting..."
		a.Streaming = ""
		a.Result = nil
		a.Error = ""
		a.StartTime = &now
		a.EndTime = nil
	})
	r.notifier.Trigger()

	tracker := newStreamTracker(r, role)
	defer tracker.stop()

	a := agent.New(def, r.c.provider, agent.WithStreaming(), agent.WithEventHandler(tracker.handle))
	res, err := a.Execute(ctx, agent.Task{
		Description:    prompt,
		ExpectedOutput: spec.ExpectedOutput,
		Context: map[string]any{
			"country":     data.Country,
			"currency":    data.CurrencyCode,
			"target_acos": data.TargetACOS,
		},
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("%s: %s: %w", spec.Name, res.Error, res.Err)
	}
	if res.Truncated {
		log.Warn("%s answer for %s was truncated, attempting repair", spec.Name, data.Country)
	}
	return res, nil
}

func (r *run) agentCompleted(role Role, started time.Time, raw json.RawMessage) {
	now := r.c.clock.Now()
	r.session.updateAgent(role, func(a *AgentState) {
		a.Status = AgentCompleted
		a.Progress = 100
		a.Message = "Analysis complete"
		a.Streaming = ""
		a.Result = raw
		a.EndTime = &now
	})
	if r.c.observer != nil {
		r.c.observer.AgentFinished(string(role), true, now.Sub(started))
	}
	r.notifier.Trigger()
}

func (r *run) agentFailed(role Role, started time.Time, err error) error {
	now := r.c.clock.Now()
	r.session.updateAgent(role, func(a *AgentState) {
		a.Status = AgentError
		a.Progress = 0
		a.Message = "Analysis failed: " + err.Error()
		a.Streaming = ""
		a.Error = err.Error()
		a.EndTime = &now
	})
	if r.c.observer != nil {
		r.c.observer.AgentFinished(string(role), false, now.Sub(started))
	}
	r.notifier.Trigger()
	return err
}

func (r *run) pause(ctx context.Context) error {
	if r.c.callDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(r.c.callDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}

func (r *run) cancelled(ctx context.Context, results []TargetResult) (Snapshot, error) {
	var merged *MergedResult
	if len(results) > 0 {
		merged = MergeTargets(results)
	}
	r.session.update(func(s *Snapshot) {
		s.FinalResult = merged
	})
	err := NewErrorWithCause(ErrCancelled, "analysis cancelled", context.Cause(ctx)).
		WithContext("completed", len(results))
	return r.finish(StatusCancelled, err)
}

func (r *run) finish(status Status, err error) (Snapshot, error) {
	now := r.c.clock.Now()
	r.session.update(func(s *Snapshot) {
		s.Status = status
		s.EndTime = &now
		s.CurrentTarget = ""
		if err != nil {
			s.Error = err.Error()
		}
	})
	r.notifier.Flush()

	elapsed := now.Sub(r.started)
	if r.c.observer != nil {
		r.c.observer.RunFinished(string(status), elapsed)
	}
	log.Info("Analysis %s finished with status %s in %s", r.session.ID(), status, elapsed.Round(time.Millisecond))
	return r.session.Snapshot(), err
}

// streamTracker turns text deltas of one agent into throttled progress updates
type streamTracker struct {
	run      *run
	role     Role
	throttle *notify.Throttler

	mu   sync.Mutex
	text strings.Builder
}

func newStreamTracker(r *run, role Role) *streamTracker {
	t := &streamTracker{run: r, role: role}
	t.throttle = notify.NewThrottler(r.c.clock, r.c.progressInterval, t.publish)
	return t
}

func (t *streamTracker) handle(e agent.Event) {
	switch e.Type {
	case agent.EventThinkingStart:
		t.mu.Lock()
		t.text.Reset()
		t.mu.Unlock()
	case agent.EventTextDelta:
		t.mu.Lock()
		t.text.WriteString(e.Content)
		t.mu.Unlock()
		t.throttle.Trigger()
	case agent.EventToolCallStart:
		t.run.session.updateAgent(t.role, func(a *AgentState) {
			a.Message = fmt.Sprintf("Running %s...", e.ToolName)
		})
		t.run.notifier.Trigger()
	}
}

func (t *streamTracker) publish() {
	t.mu.Lock()
	text := t.text.String()
	t.mu.Unlock()

	chars := utf8.RuneCountInString(text)
	t.run.session.updateAgent(t.role, func(a *AgentState) {
		if a.Status != AgentRunning {
			return
		}
		a.Progress = EstimateProgress(chars)
		a.Message = fmt.Sprintf("Generating... %d chars", chars)
		a.Streaming = Preview(text)
	})
	t.run.notifier.Trigger()
}

func (t *streamTracker) stop() {
	t.throttle.Stop()
}
