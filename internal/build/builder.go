// Package build sequences the documentation pipeline stages for each
// configured repository and aggregates per-unit outcomes into one result.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/ericharmeling/docs-pipeline/internal/config"
	"github.com/ericharmeling/docs-pipeline/internal/discovery"
	"github.com/ericharmeling/docs-pipeline/internal/generation"
	"github.com/ericharmeling/docs-pipeline/internal/history"
	"github.com/ericharmeling/docs-pipeline/internal/logfields"
	"github.com/ericharmeling/docs-pipeline/internal/metrics"
	"github.com/ericharmeling/docs-pipeline/internal/notify"
	"github.com/ericharmeling/docs-pipeline/internal/render"
	"github.com/ericharmeling/docs-pipeline/internal/report"
	"github.com/ericharmeling/docs-pipeline/internal/testexec"
	"github.com/ericharmeling/docs-pipeline/internal/tracker"
	"github.com/ericharmeling/docs-pipeline/internal/validation"
	"github.com/ericharmeling/docs-pipeline/internal/workspace"
)

// Syncer populates a destination with one repository's source tree.
type Syncer interface {
	Sync(ctx context.Context, repo config.Repository) (string, error)
}

// Discoverer lists the documentable units under a synced tree.
type Discoverer interface {
	Discover(repoName, root string, paths []string) ([]discovery.Unit, error)
}

// Generator produces documentation artifacts for one unit.
type Generator interface {
	Generate(ctx context.Context, unit discovery.Unit) ([]generation.Artifact, error)
}

// Validator checks generated documentation against its source.
type Validator interface {
	Validate(ctx context.Context, source, documentation string) validation.Result
}

// TestRunner executes generated test code.
type TestRunner interface {
	Run(ctx context.Context, unitName, testCode string) testexec.Result
}

// Reporter writes the build's summary documents.
type Reporter interface {
	EmitTestReport(project string, outcomes []report.TestOutcome) error
	EmitValidationReport(project string, summary report.ValidationSummary) error
}

// PageRenderer renders per-unit documentation pages.
type PageRenderer interface {
	RenderAll(pages []render.Page) (string, error)
}

// Notifier publishes a build completion event.
type Notifier interface {
	Publish(event notify.BuildEvent) error
}

// Result is the aggregate outcome of one build invocation.
type Result struct {
	BuildID          string
	ValidationPassed bool
	TestsPassed      bool
	ErrorMessage     string
	UnitsTotal       int
	UnitsChanged     int
	Duration         time.Duration
}

// Builder owns the transient workspace for one build and drives the stages
// Sync, Discover, Filter, Generate, Validate, Test, Persist, Report.
type Builder struct {
	repos       []config.Repository
	syncer      Syncer
	discoverer  Discoverer
	generator   Generator
	validator   Validator
	testRunner  TestRunner
	reporter    Reporter
	renderer    PageRenderer
	cache       *tracker.Tracker
	workspace   *workspace.Manager
	recorder    metrics.Recorder
	historyDB   *history.Store
	notifier    Notifier
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

// NewBuilder wires the required adapters. Optional collaborators are added
// with the WithX methods.
func NewBuilder(
	repos []config.Repository,
	syncer Syncer,
	discoverer Discoverer,
	generator Generator,
	validator Validator,
	testRunner TestRunner,
	reporter Reporter,
	cache *tracker.Tracker,
	ws *workspace.Manager,
) *Builder {
	return &Builder{
		repos:       repos,
		syncer:      syncer,
		discoverer:  discoverer,
		generator:   generator,
		validator:   validator,
		testRunner:  testRunner,
		reporter:    reporter,
		cache:       cache,
		workspace:   ws,
		recorder:    metrics.NoopRecorder{},
		concurrency: 4,
		timeout:     30 * time.Minute,
		logger:      slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithRecorder sets a metrics recorder.
func (b *Builder) WithRecorder(r metrics.Recorder) *Builder {
	b.recorder = r
	return b
}

// WithRenderer enables HTML page rendering after a successful report stage.
func (b *Builder) WithRenderer(r PageRenderer) *Builder {
	b.renderer = r
	return b
}

// WithHistory records each build in the given store.
func (b *Builder) WithHistory(db *history.Store) *Builder {
	b.historyDB = db
	return b
}

// WithNotifier publishes a completion event per build.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithConcurrency bounds the number of units processed in parallel.
func (b *Builder) WithConcurrency(n int) *Builder {
	if n > 0 {
		b.concurrency = n
	}
	return b
}

// WithTimeout sets the per-build deadline covering all adapter calls.
func (b *Builder) WithTimeout(d time.Duration) *Builder {
	if d > 0 {
		b.timeout = d
	}
	return b
}

// unitOutcome is the recorded result of processing one unit.
type unitOutcome struct {
	unit       discovery.Unit
	artifacts  []generation.Artifact
	verdict    validation.Result
	testRun    bool
	testResult testexec.Result
	fromCache  bool
}

// Run executes one build. The returned Result always resolves; the error is
// non-nil only for structural failures (discovery or report emission).
func (b *Builder) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	buildID := uuid.NewString()
	logger := b.logger.With(logfields.BuildID(buildID))
	result := Result{BuildID: buildID, ValidationPassed: true, TestsPassed: true}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	b.recorder.SetUnitConcurrency(b.concurrency)

	// The caller may have created the workspace already so adapters could be
	// wired against its path.
	if b.workspace.GetPath() == "" {
		if err := b.workspace.Create(); err != nil {
			result.ValidationPassed = false
			result.ErrorMessage = err.Error()
			return b.finish(ctx, result, start, logger), err
		}
	}

	// Acquire and Discover. A sync failure is fatal for that repository
	// only; a discovery failure aborts the whole build.
	var units []discovery.Unit
	var firstError string
	for _, repo := range b.repos {
		syncStart := time.Now()
		root, err := b.syncer.Sync(ctx, repo)
		b.recorder.ObserveStageDuration("sync", time.Since(syncStart))
		if err != nil {
			logger.Error("Repository sync failed", logfields.Repository(repo.Name), logfields.Error(err))
			b.recorder.IncStageResult("sync", metrics.ResultFatal)
			result.ValidationPassed = false
			if firstError == "" {
				firstError = fmt.Sprintf("sync failed for %s: %v", repo.Name, err)
			}
			continue
		}
		b.recorder.IncStageResult("sync", metrics.ResultSuccess)

		discovered, err := b.discoverer.Discover(repo.Name, root, repo.Paths)
		if err != nil {
			logger.Error("Discovery failed", logfields.Repository(repo.Name), logfields.Error(err))
			b.recorder.IncStageResult("discover", metrics.ResultFatal)
			result.ValidationPassed = false
			result.ErrorMessage = fmt.Sprintf("discovery failed for %s: %v", repo.Name, err)
			return b.finish(ctx, result, start, logger), err
		}
		b.recorder.IncStageResult("discover", metrics.ResultSuccess)
		units = append(units, discovered...)
	}
	result.UnitsTotal = len(units)
	logger.Info("Discovery complete", logfields.Count(len(units)))

	// Filter. A changed source file reprocesses every unit in it, plus the
	// units of every transitive dependent file.
	changedKeys := b.changedKeys(units)
	outcomes := b.processUnits(ctx, logger, units, changedKeys)
	result.UnitsChanged = len(changedKeys)

	// Persist. The cache only ever reflects fully processed files.
	b.persist(units, outcomes, changedKeys)

	// Aggregate before reporting so the reports reflect the final verdicts.
	for _, o := range outcomes {
		if !o.verdict.IsValid {
			result.ValidationPassed = false
			if firstError == "" && len(o.verdict.Errors) > 0 {
				firstError = o.verdict.Errors[0]
			}
		}
		if o.testRun && !o.testResult.Passed {
			result.TestsPassed = false
		}
	}
	if result.ErrorMessage == "" {
		result.ErrorMessage = firstError
	}

	if err := b.emitReports(outcomes, result); err != nil {
		logger.Error("Report emission failed", logfields.Error(err))
		result.ValidationPassed = false
		result.ErrorMessage = err.Error()
		return b.finish(ctx, result, start, logger), err
	}

	b.renderPages(logger, outcomes)

	return b.finish(ctx, result, start, logger), nil
}

// changedKeys returns the set of file keys whose units must be reprocessed:
// files that are new or modified, plus their transitive dependents. Keys are
// repository plus repo-relative path, so the set carries across builds even
// though every build syncs into a fresh workspace.
func (b *Builder) changedKeys(units []discovery.Unit) map[string]struct{} {
	candidates := make([]tracker.Candidate, 0, len(units))
	seen := make(map[string]struct{}, len(units))
	for _, u := range units {
		key := u.StateKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		candidates = append(candidates, tracker.Candidate{Key: key, Path: u.SourcePath})
	}

	changed := make(map[string]struct{})
	for _, c := range b.cache.GetChangedUnits(candidates) {
		changed[c.Key] = struct{}{}
		for dependent := range b.cache.GetDependents(c.Key) {
			if _, tracked := seen[dependent]; tracked {
				changed[dependent] = struct{}{}
			}
		}
	}
	return changed
}

// processUnits runs Generate, Validate and Test for every changed unit with
// bounded concurrency. Unchanged units reuse their cached verdict without
// any adapter call.
func (b *Builder) processUnits(ctx context.Context, logger *slog.Logger, units []discovery.Unit, changed map[string]struct{}) []unitOutcome {
	outcomes := make([]unitOutcome, len(units))
	var mu sync.Mutex

	workers := pool.New().WithMaxGoroutines(b.concurrency)
	for i, unit := range units {
		if _, ok := changed[unit.StateKey()]; !ok {
			b.recorder.IncUnitCacheHit()
			prior, _ := b.cache.Get(unit.StateKey())
			outcomes[i] = unitOutcome{
				unit:      unit,
				verdict:   validation.Result{IsValid: prior.ValidationResult},
				fromCache: true,
			}
			continue
		}
		b.recorder.IncUnitCacheMiss()

		workers.Go(func() {
			outcome := b.processUnit(ctx, logger, unit)
			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
		})
	}
	workers.Wait()
	return outcomes
}

// processUnit runs the per-unit stages. Adapter failures are converted into
// recorded outcomes here and never abort the build.
func (b *Builder) processUnit(ctx context.Context, logger *slog.Logger, unit discovery.Unit) unitOutcome {
	outcome := unitOutcome{unit: unit}
	unitLogger := logger.With(logfields.Unit(unit.ID()))

	genStart := time.Now()
	artifacts, err := b.generator.Generate(ctx, unit)
	b.recorder.ObserveStageDuration("generate", time.Since(genStart))
	if err != nil {
		unitLogger.Warn("Generation failed, continuing with empty artifacts", logfields.Stage("generate"), logfields.Error(err))
		b.recorder.IncStageResult("generate", metrics.ResultWarning)
		artifacts = nil
	} else {
		b.recorder.IncStageResult("generate", metrics.ResultSuccess)
	}
	outcome.artifacts = artifacts

	source := unit.Signature
	if unit.Doc != "" {
		source = unit.Doc + "\n" + unit.Signature
	}
	documentation := generation.FormatMarkdown(unit, artifacts)

	valStart := time.Now()
	outcome.verdict = b.validator.Validate(ctx, source, documentation)
	b.recorder.ObserveStageDuration("validate", time.Since(valStart))
	if outcome.verdict.IsValid {
		b.recorder.IncStageResult("validate", metrics.ResultSuccess)
	} else {
		unitLogger.Warn("Validation verdict is invalid", logfields.Stage("validate"), logfields.Count(len(outcome.verdict.Errors)))
		b.recorder.IncStageResult("validate", metrics.ResultWarning)
	}

	for _, artifact := range artifacts {
		if artifact.TestCode == "" {
			continue
		}
		testStart := time.Now()
		testResult := b.testRunner.Run(ctx, unit.Name, artifact.TestCode)
		b.recorder.ObserveStageDuration("test", time.Since(testStart))
		outcome.testRun = true
		if !testResult.Passed {
			unitLogger.Warn("Generated test failed", logfields.Stage("test"), slog.String("error", testResult.ErrorMessage))
			b.recorder.IncStageResult("test", metrics.ResultWarning)
			outcome.testResult = testResult
			break
		}
		b.recorder.IncStageResult("test", metrics.ResultSuccess)
		outcome.testResult = testResult
	}
	return outcome
}

// persist writes the final verdict for every changed file. A file is valid
// only if all of its units validated. Dependencies are stored as sibling
// file keys so the dependent walk works on reopened caches.
func (b *Builder) persist(units []discovery.Unit, outcomes []unitOutcome, changed map[string]struct{}) {
	verdicts := make(map[string]bool, len(changed))
	paths := make(map[string]string, len(changed))
	deps := make(map[string][]string, len(changed))
	for i, unit := range units {
		key := unit.StateKey()
		if _, ok := changed[key]; !ok {
			continue
		}
		valid, seen := verdicts[key]
		if !seen {
			valid = true
		}
		verdicts[key] = valid && outcomes[i].verdict.IsValid
		paths[key] = unit.SourcePath

		siblingKeys := make([]string, 0, len(unit.Siblings))
		for _, sibling := range unit.Siblings {
			siblingKeys = append(siblingKeys, unit.Repository+":"+sibling)
		}
		deps[key] = siblingKeys
	}
	for key, valid := range verdicts {
		b.cache.UpdateState(key, paths[key], deps[key], valid)
	}
}

// emitReports writes the test and validation summaries. Emission failures
// propagate as build-terminating errors.
func (b *Builder) emitReports(outcomes []unitOutcome, result Result) error {
	testOutcomes := make([]report.TestOutcome, 0, len(outcomes))
	summary := report.ValidationSummary{Valid: result.ValidationPassed}
	for _, o := range outcomes {
		if o.testRun {
			testOutcomes = append(testOutcomes, report.TestOutcome{
				Unit:     o.unit.ID(),
				Passed:   o.testResult.Passed,
				Coverage: o.testResult.CoveragePercentage,
			})
		}
		summary.Errors = appendUnique(summary.Errors, o.verdict.Errors)
		summary.Suggestions = appendUnique(summary.Suggestions, o.verdict.Suggestions)
	}

	if err := b.reporter.EmitTestReport("Documentation Pipeline", testOutcomes); err != nil {
		return err
	}
	return b.reporter.EmitValidationReport("Documentation Pipeline", summary)
}

// renderPages writes HTML pages for freshly generated units. Rendering is a
// recorded warning on failure, never fatal.
func (b *Builder) renderPages(logger *slog.Logger, outcomes []unitOutcome) {
	if b.renderer == nil {
		return
	}
	var pages []render.Page
	for _, o := range outcomes {
		if o.fromCache || len(o.artifacts) == 0 {
			continue
		}
		pages = append(pages, render.Page{
			Slug:     render.Slugify(o.unit.ID()),
			Title:    o.unit.Name,
			Markdown: generation.FormatMarkdown(o.unit, o.artifacts),
		})
	}
	if len(pages) == 0 {
		return
	}
	siteDir, err := b.renderer.RenderAll(pages)
	if err != nil {
		logger.Warn("HTML rendering failed", logfields.Error(err))
		return
	}

	// Cross-page links are checked after every render so a renamed unit
	// surfaces as a warning instead of a silent 404 on the site.
	broken, err := render.VerifyLinks(siteDir)
	if err != nil {
		logger.Warn("Link verification failed", logfields.Error(err))
		return
	}
	for _, bl := range broken {
		logger.Warn("Broken link in rendered site",
			logfields.Path(bl.Link.SourcePage),
			slog.String("url", bl.Link.URL),
			slog.String("reason", bl.Reason))
	}
}

// finish records metrics, history and notifications, and flushes the cache.
func (b *Builder) finish(ctx context.Context, result Result, start time.Time, logger *slog.Logger) Result {
	result.Duration = time.Since(start)
	b.cache.Flush()

	outcome := "success"
	if !result.ValidationPassed || !result.TestsPassed {
		outcome = "failed"
	}
	b.recorder.IncBuildOutcome(outcome)
	b.recorder.ObserveBuildDuration(result.Duration)

	if b.historyDB != nil {
		repoNames := make([]string, 0, len(b.repos))
		for _, r := range b.repos {
			repoNames = append(repoNames, r.Name)
		}
		record := history.Record{
			BuildID:    result.BuildID,
			Repository: joinNames(repoNames),
			StartedAt:  start,
			FinishedAt: time.Now(),
			UnitsTotal: result.UnitsTotal,
			UnitsBuilt: result.UnitsChanged,
			Succeeded:  result.ValidationPassed && result.TestsPassed,
		}
		if err := b.historyDB.Append(ctx, record); err != nil {
			logger.Warn("Failed to record build history", logfields.Error(err))
		}
	}

	if b.notifier != nil {
		event := notify.BuildEvent{
			BuildID:    result.BuildID,
			Succeeded:  result.ValidationPassed && result.TestsPassed,
			UnitsBuilt: result.UnitsChanged,
		}
		if len(b.repos) > 0 {
			event.Repository = b.repos[0].Name
		}
		if err := b.notifier.Publish(event); err != nil {
			logger.Warn("Failed to publish build event", logfields.Error(err))
		}
	}

	logger.Info("Build finished",
		slog.Bool("validation_passed", result.ValidationPassed),
		slog.Bool("tests_passed", result.TestsPassed),
		logfields.DurationMS(float64(result.Duration.Milliseconds())))
	return result
}

// Cleanup removes the transient workspace. Safe to call more than once and
// never touches the cache or report directories.
func (b *Builder) Cleanup() error {
	return b.workspace.Cleanup()
}

func appendUnique(dst []string, items []string) []string {
	for _, item := range items {
		found := false
		for _, existing := range dst {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, item)
		}
	}
	return dst
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	out := names[0]
	for _, n := range names[1:] {
		out += "," + n
	}
	return out
}
