package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/chenapple/thesaurus-management/internal/analysis"
	"github.com/chenapple/thesaurus-management/internal/config"
	"github.com/chenapple/thesaurus-management/internal/persistence"
	"github.com/chenapple/thesaurus-management/pkg/icron"
	"github.com/chenapple/thesaurus-management/pkg/log"
)

// Store is the session storage used by the runner
type Store interface {
	UpsertSession(ctx context.Context, rec persistence.SessionRecord) error
	GetSession(ctx context.Context, id string) (persistence.SessionRecord, bool, error)
	ListSessions(ctx context.Context, limit int) ([]persistence.SessionRecord, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	SaveTargetResult(ctx context.Context, sessionID string, position int, result analysis.TargetResult) error
	LoadTargetResults(ctx context.Context, sessionID string) ([]persistence.TargetCheckpoint, error)
}

// AnalyzeRequest starts a new session, or resumes a stored one when ResumeID is set.
// ID, Terms, Source and TargetACOS are ignored on resume.
type AnalyzeRequest struct {
	// ID names the new session; a random id is used when empty
	ID         string
	Terms      []analysis.SearchTerm
	Source     string
	TargetACOS float64
	ResumeID   string
	OnUpdate   func(analysis.Snapshot)
}

// Outcome is the result of one runner call
type Outcome struct {
	SessionID string            `json:"session_id"`
	Snapshot  analysis.Snapshot `json:"snapshot"`
}

// SessionDetail is a stored session with the merged result of its checkpoints
type SessionDetail struct {
	Session persistence.SessionRecord `json:"session"`
	Result  *analysis.MergedResult    `json:"result,omitempty"`
}

// CoordinatorFactory builds a coordinator for new runtime settings
type CoordinatorFactory func(settings config.RuntimeSettings) (*analysis.Coordinator, error)

// Runner persists analysis sessions around the coordinator
type Runner struct {
	store   Store
	cron    *cron.Cron
	factory CoordinatorFactory

	mu          sync.RWMutex
	coord       *analysis.Coordinator
	targetACOS  float64
	entries     map[string]cron.EntryID
	lastTrigger time.Time
	termsFile   string

	group singleflight.Group
}

type Option func(*Runner)

func WithTargetACOS(acos float64) Option {
	return func(r *Runner) {
		r.targetACOS = acos
	}
}

// WithCron sets the scheduler used by Schedule and SchedulePrune
func WithCron(c *cron.Cron) Option {
	return func(r *Runner) {
		r.cron = c
	}
}

func WithCoordinatorFactory(f CoordinatorFactory) Option {
	return func(r *Runner) {
		r.factory = f
	}
}

func NewRunner(coord *analysis.Coordinator, store Store, opts ...Option) (*Runner, error) {
	if coord == nil {
		return nil, NewError(ErrValidation, "coordinator is required")
	}
	if store == nil {
		return nil, NewError(ErrValidation, "store is required")
	}
	r := &Runner{
		coord:      coord,
		store:      store,
		targetACOS: analysis.DefaultTargetACOS,
		entries:    make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Use replaces the coordinator for subsequent runs, e.g. after the provider settings changed.
// It fails while a run is active.
func (r *Runner) Use(coord *analysis.Coordinator) error {
	if coord == nil {
		return NewError(ErrValidation, "coordinator is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.coord.IsRunning() {
		return NewError(ErrBusy, "cannot change the provider while an analysis is running")
	}
	r.coord = coord
	return nil
}

func (r *Runner) SetTargetACOS(acos float64) {
	if acos <= 0 {
		return
	}
	r.mu.Lock()
	r.targetACOS = acos
	r.mu.Unlock()
}

// ApplyRuntimeSettings switches to a coordinator built for settings, updates the default
// target ACOS and moves the scheduled analysis to the new cron expression.
func (r *Runner) ApplyRuntimeSettings(ctx context.Context, settings config.RuntimeSettings) error {
	if r.factory == nil {
		return NewError(ErrValidation, "runtime settings cannot be applied without a coordinator factory")
	}
	coord, err := r.factory(settings)
	if err != nil {
		return err
	}
	if err := r.Use(coord); err != nil {
		return err
	}
	r.SetTargetACOS(settings.TargetACOS)

	r.mu.RLock()
	termsFile := r.termsFile
	r.mu.RUnlock()
	if termsFile != "" && settings.CronExpr != "" {
		if err := r.Schedule(ctx, settings.CronExpr, termsFile); err != nil {
			return err
		}
	}
	log.Info("Applied runtime settings: provider %s, model %s", settings.LLMProvider, settings.LLMModel)
	return nil
}

func (r *Runner) coordinator() *analysis.Coordinator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.coord
}

func (r *Runner) defaultACOS() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.targetACOS
}

// Stop signals the active run to stop. It reports whether a run was active.
func (r *Runner) Stop() bool {
	return r.coordinator().Stop()
}

func (r *Runner) IsRunning() bool {
	return r.coordinator().IsRunning()
}

// Current returns the snapshot of the latest run of this process
func (r *Runner) Current() (analysis.Snapshot, bool) {
	return r.coordinator().Current()
}

// Analyze runs a session and stores its progress. Each completed target is checkpointed, so a
// stopped or failed session can be resumed without repeating finished targets.
func (r *Runner) Analyze(ctx context.Context, req AnalyzeRequest) (Outcome, error) {
	var (
		rec      persistence.SessionRecord
		existing []analysis.TargetResult
	)

	if req.ResumeID != "" {
		stored, err := r.loadSession(ctx, req.ResumeID)
		if err != nil {
			return Outcome{}, err
		}
		rec = stored
		existing, err = r.loadResults(ctx, rec.ID)
		if err != nil {
			return Outcome{}, err
		}
		log.Info("Resuming session %s with %d completed targets", rec.ID, len(existing))
	} else {
		if len(req.Terms) == 0 {
			return Outcome{}, NewError(ErrValidation, "no search terms to analyze")
		}
		acos := req.TargetACOS
		if acos <= 0 {
			acos = r.defaultACOS()
		}
		id := req.ID
		if id == "" {
			id = uuid.NewString()
		}
		rec = persistence.SessionRecord{
			ID:         id,
			Source:     req.Source,
			TargetACOS: acos,
			Terms:      req.Terms,
		}
	}

	rec.Status = analysis.StatusRunning
	rec.Error = ""
	rec.UpdatedAt = time.Time{}
	if err := r.store.UpsertSession(ctx, rec); err != nil {
		return Outcome{}, WrapError(err, ErrStorage, "failed to save session").WithContext("session", rec.ID)
	}

	skip := make([]string, 0, len(existing))
	for _, res := range existing {
		skip = append(skip, res.Country)
	}

	snap, runErr := r.coordinator().Run(ctx, analysis.RunRequest{
		Terms:         rec.Terms,
		TargetACOS:    rec.TargetACOS,
		SkipCountries: skip,
		Callbacks:     r.callbacks(ctx, rec, req.OnUpdate),
	})
	if len(existing) > 0 {
		var fresh []analysis.TargetResult
		if snap.FinalResult != nil {
			fresh = snap.FinalResult.ByCountry
		}
		snap.FinalResult = analysis.MergeRetry(analysis.MergeTargets(existing), fresh, analysis.Partition(rec.Terms).Targets)
	}
	return r.finish(ctx, rec, snap, runErr)
}

// Retry reruns the failed targets of a stored session and merges them with its checkpoints
func (r *Runner) Retry(ctx context.Context, sessionID string, onUpdate func(analysis.Snapshot)) (Outcome, error) {
	rec, err := r.loadSession(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	if len(rec.Failed) == 0 {
		return Outcome{}, NewError(ErrValidation, "session has no failed targets").WithContext("session", rec.ID)
	}
	existing, err := r.loadResults(ctx, rec.ID)
	if err != nil {
		return Outcome{}, err
	}
	var merged *analysis.MergedResult
	if len(existing) > 0 {
		merged = analysis.MergeTargets(existing)
	}

	failed := rec.Failed
	rec.Status = analysis.StatusRunning
	rec.Error = ""
	rec.UpdatedAt = time.Time{}
	if err := r.store.UpsertSession(ctx, rec); err != nil {
		return Outcome{}, WrapError(err, ErrStorage, "failed to save session").WithContext("session", rec.ID)
	}

	snap, runErr := r.coordinator().RetryFailed(ctx, analysis.RunRequest{
		Terms:      rec.Terms,
		TargetACOS: rec.TargetACOS,
		Callbacks:  r.callbacks(ctx, rec, onUpdate),
	}, failed, merged)
	return r.finish(ctx, rec, snap, runErr)
}

// RunAgent runs a single analyst role over terms without storing a session
func (r *Runner) RunAgent(ctx context.Context, role analysis.Role, terms []analysis.SearchTerm, targetACOS float64) (json.RawMessage, error) {
	if len(terms) == 0 {
		return nil, NewError(ErrValidation, "no search terms to analyze")
	}
	if targetACOS <= 0 {
		targetACOS = r.defaultACOS()
	}
	return r.coordinator().RunSingleAgent(ctx, role, terms, targetACOS)
}

// Sessions lists the most recently updated sessions
func (r *Runner) Sessions(ctx context.Context, limit int) ([]persistence.SessionRecord, error) {
	list, err := r.store.ListSessions(ctx, limit)
	if err != nil {
		return nil, WrapError(err, ErrStorage, "failed to list sessions")
	}
	return list, nil
}

// Session returns a stored session with the merged result of its completed targets
func (r *Runner) Session(ctx context.Context, id string) (SessionDetail, error) {
	rec, err := r.loadSession(ctx, id)
	if err != nil {
		return SessionDetail{}, err
	}
	results, err := r.loadResults(ctx, id)
	if err != nil {
		return SessionDetail{}, err
	}
	detail := SessionDetail{Session: rec}
	if len(results) > 0 {
		detail.Result = analysis.MergeTargets(results)
	}
	return detail, nil
}

func (r *Runner) DeleteSession(ctx context.Context, id string) error {
	if _, err := r.loadSession(ctx, id); err != nil {
		return err
	}
	if err := r.store.DeleteSession(ctx, id); err != nil {
		return WrapError(err, ErrStorage, "failed to delete session").WithContext("session", id)
	}
	return nil
}

// Prune removes sessions not updated within retention
func (r *Runner) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	n, err := r.store.DeleteSessionsBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, WrapError(err, ErrStorage, "failed to prune sessions")
	}
	if n > 0 {
		log.Info("Pruned %d sessions older than %s", n, retention)
	}
	return n, nil
}

// Schedule registers a cron job analyzing termsFile. A tick is skipped while
// another run is active or the previous tick is still running.
// Calling Schedule again replaces the previous job.
func (r *Runner) Schedule(ctx context.Context, cronExpr, termsFile string) error {
	if termsFile == "" {
		return NewError(ErrValidation, "a terms file is required for scheduled runs")
	}

	runFunc := func() {
		_, _, _ = r.group.Do("scheduled", func() (any, error) {
			if err := SafeExecute(func() error { return r.runScheduled(ctx, termsFile) }); err != nil {
				NewDefaultErrorHandler().Handle(err)
			}
			return nil, nil
		})
	}
	if err := r.register("analyze", cronExpr, runFunc); err != nil {
		return err
	}
	r.mu.Lock()
	r.termsFile = termsFile
	r.mu.Unlock()

	if info, err := icron.GetTriggerInfo(cronExpr, time.Now()); err == nil {
		log.Info("Scheduled analysis of %s, next run at %s (in %s)",
			termsFile, info.Next.Format(time.RFC3339), info.TimeUntilNext.Round(time.Second))
	}
	return nil
}

// SchedulePrune registers a daily job removing sessions older than retention
func (r *Runner) SchedulePrune(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	return r.register("prune", "@daily", func() {
		if _, err := r.Prune(ctx, retention); err != nil {
			NewDefaultErrorHandler().Handle(err)
		}
	})
}

// LastTrigger returns the time the last scheduled analysis started
func (r *Runner) LastTrigger() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastTrigger
}

func (r *Runner) register(name, spec string, fn func()) error {
	if r.cron == nil {
		return NewError(ErrValidation, "no scheduler configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.entries[name]; ok {
		r.cron.Remove(id)
		delete(r.entries, name)
	}
	id, err := r.cron.AddFunc(spec, fn)
	if err != nil {
		return WrapError(err, ErrValidation, "invalid cron expression").WithContext("expr", spec)
	}
	r.entries[name] = id
	return nil
}

func (r *Runner) runScheduled(ctx context.Context, termsFile string) error {
	if r.IsRunning() {
		log.Info("Skipping scheduled analysis: another analysis is running")
		return nil
	}
	r.mu.Lock()
	r.lastTrigger = time.Now()
	r.mu.Unlock()

	terms, err := LoadTerms(termsFile)
	if err != nil {
		return err
	}
	log.Info("Running scheduled analysis of %s: %d records", termsFile, len(terms))

	out, err := r.Analyze(ctx, AnalyzeRequest{
		Terms:  terms,
		Source: "schedule:" + termsFile,
	})
	if err != nil {
		return err
	}
	log.Info("Scheduled analysis %s finished with status %s", out.SessionID, out.Snapshot.Status)
	return nil
}

func (r *Runner) callbacks(ctx context.Context, rec persistence.SessionRecord, onUpdate func(analysis.Snapshot)) analysis.Callbacks {
	positions := make(map[string]int)
	for i, country := range analysis.Partition(rec.Terms).Targets {
		positions[country] = i
	}
	// checkpoints must survive a stopped run
	saveCtx := context.WithoutCancel(ctx)

	return analysis.Callbacks{
		OnSessionUpdate: onUpdate,
		OnTargetComplete: func(country string, result analysis.TargetResult) {
			if err := r.store.SaveTargetResult(saveCtx, rec.ID, positions[country], result); err != nil {
				log.Error("Failed to checkpoint %s of session %s: %v", country, rec.ID, err)
			}
		},
	}
}

func (r *Runner) finish(ctx context.Context, rec persistence.SessionRecord, snap analysis.Snapshot, runErr error) (Outcome, error) {
	status := snap.Status
	if status == analysis.StatusError && snap.FinalResult != nil && len(snap.FinalResult.ByCountry) > 0 {
		// earlier checkpoints still hold results
		status = analysis.StatusPartial
	}
	rec.Status = status
	rec.Failed = snap.Progress.Failed
	rec.Error = snap.Error
	rec.UpdatedAt = time.Time{}
	if err := r.store.UpsertSession(context.WithoutCancel(ctx), rec); err != nil {
		log.Error("Failed to save session %s: %v", rec.ID, err)
	}
	return Outcome{SessionID: rec.ID, Snapshot: snap}, runErr
}

func (r *Runner) loadSession(ctx context.Context, id string) (persistence.SessionRecord, error) {
	rec, ok, err := r.store.GetSession(ctx, id)
	if err != nil {
		return persistence.SessionRecord{}, WrapError(err, ErrStorage, "failed to load session").WithContext("session", id)
	}
	if !ok {
		return persistence.SessionRecord{}, NewError(ErrNotFound, fmt.Sprintf("session %s not found", id))
	}
	return rec, nil
}

func (r *Runner) loadResults(ctx context.Context, id string) ([]analysis.TargetResult, error) {
	cps, err := r.store.LoadTargetResults(ctx, id)
	if err != nil {
		return nil, WrapError(err, ErrStorage, "failed to load checkpoints").WithContext("session", id)
	}
	results := make([]analysis.TargetResult, 0, len(cps))
	for _, cp := range cps {
		results = append(results, cp.Result)
	}
	return results, nil
}
