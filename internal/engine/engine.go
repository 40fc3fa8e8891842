// Package engine orchestrates drift checks across every mapping of a project.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sharedvolume/drift-detector/internal/diff"
	"github.com/sharedvolume/drift-detector/internal/gitsource"
	"github.com/sharedvolume/drift-detector/internal/index"
	"github.com/sharedvolume/drift-detector/internal/logging"
	"github.com/sharedvolume/drift-detector/internal/models"
	"github.com/sharedvolume/drift-detector/internal/transport"
	"github.com/sharedvolume/drift-detector/pkg/errors"
)

// DefaultConcurrency bounds mappings processed at once
const DefaultConcurrency = 4

// Options configure an Engine
type Options struct {
	Concurrency    int
	ConnectTimeout time.Duration
	ExecTimeout    time.Duration
	// DialRate limits new SSH connections per second; zero means unlimited.
	DialRate       float64
	MaxRemoteFiles int
	// OnMappingDone is called after each mapping finishes. It may be called
	// from several goroutines at once.
	OnMappingDone func(done, total int)
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = transport.DefaultConnectTimeout
	}
	if o.ExecTimeout <= 0 {
		o.ExecTimeout = transport.DefaultExecTimeout
	}
	if o.MaxRemoteFiles <= 0 {
		o.MaxRemoteFiles = index.DefaultMaxRemoteFiles
	}
	return o
}

// Engine runs drift checks. It is safe for concurrent use.
type Engine struct {
	source  gitsource.Materializer
	dialer  transport.Dialer
	remote  *index.RemoteIndexer
	limiter *rate.Limiter
	opts    Options
	logger  *zap.Logger
}

// New creates a new engine
func New(source gitsource.Materializer, dialer transport.Dialer, opts Options, logger *zap.Logger) *Engine {
	opts = opts.withDefaults()
	logger = logging.OrNop(logger)

	limit := rate.Inf
	if opts.DialRate > 0 {
		limit = rate.Limit(opts.DialRate)
	}

	return &Engine{
		source:  source,
		dialer:  dialer,
		remote:  index.NewRemoteIndexer(opts.MaxRemoteFiles, logger),
		limiter: rate.NewLimiter(limit, opts.Concurrency),
		opts:    opts,
		logger:  logger.Named("engine"),
	}
}

type mappingResult struct {
	diffs     []models.FileDiff
	truncated bool
	err       error
}

// Run checks every mapping of project against the Git branch tip. Only
// malformed input returns an error; host and repository failures are
// reported inside the SyncReport.
func (e *Engine) Run(ctx context.Context, project models.ProjectSpec, hosts []models.HostCredential) (*models.SyncReport, error) {
	if project.GitURL == "" {
		return nil, errors.NewValidationError("project gitUrl is required")
	}
	if len(project.Mappings) == 0 {
		return nil, errors.NewValidationError("project has no path mappings")
	}
	ignore, err := index.CompileIgnore(project.IgnorePattern)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	report := &models.SyncReport{
		RunID:       uuid.NewString(),
		ProjectID:   project.ID,
		GeneratedAt: start.UTC(),
	}
	logger := e.logger.With(zap.String("project", project.ID), zap.String("run", report.RunID))

	creds := make(map[string]models.HostCredential, len(hosts))
	for _, h := range hosts {
		if _, dup := creds[h.ID]; !dup {
			creds[h.ID] = h
		}
	}
	order := hostOrder(project.Mappings)

	logger.Info("starting drift check",
		zap.Int("mappings", len(project.Mappings)),
		zap.Int("hosts", len(order)),
		zap.Bool("checkContent", project.CheckContent))

	local, commit, err := e.buildLocal(ctx, project)
	if err != nil {
		logger.Error("repository acquisition failed", zap.Error(err))
		for _, id := range order {
			report.Results = append(report.Results, models.HostSyncResult{
				HostID:       id,
				HostLabel:    hostLabel(creds, id),
				Outcome:      models.OutcomeError,
				ErrorMessage: err.Error(),
				Diffs:        []models.FileDiff{},
			})
		}
		return e.finish(report, start), nil
	}
	report.Commit = commit

	results := e.runMappings(ctx, project, creds, local, ignore, logger)
	report.Results = aggregate(project.Mappings, results, order, creds)

	e.finish(report, start)
	logger.Info("drift check finished",
		zap.String("commit", commit),
		zap.Int("failedHosts", report.Summary.FailedHosts),
		zap.Bool("drifted", report.Summary.Drifted()),
		zap.Duration("took", report.Duration))
	return report, nil
}

// buildLocal materializes the branch and indexes the whole tree once. The
// cache slot is released as soon as the index exists.
func (e *Engine) buildLocal(ctx context.Context, project models.ProjectSpec) (*models.FileIndex, string, error) {
	checkout, err := e.source.Materialize(ctx, gitsource.Source{
		URL:    project.GitURL,
		Branch: project.GitBranch,
		Token:  project.GitToken,
	})
	if err != nil {
		return nil, "", err
	}
	defer checkout.Release()

	local, err := index.BuildLocal(checkout.Dir, nil)
	if err != nil {
		return nil, "", err
	}
	e.logger.Debug("local tree indexed", zap.Int("files", local.Len()), zap.String("commit", checkout.Commit))
	return local, checkout.Commit, nil
}

func (e *Engine) runMappings(ctx context.Context, project models.ProjectSpec, creds map[string]models.HostCredential,
	local *models.FileIndex, ignore *regexp.Regexp, logger *zap.Logger) []mappingResult {

	results := make([]mappingResult, len(project.Mappings))
	semaphore := make(chan struct{}, e.opts.Concurrency)
	total := len(project.Mappings)
	var done int32
	var wg sync.WaitGroup

	for i, m := range project.Mappings {
		// Acquire semaphore slot
		semaphore <- struct{}{}
		wg.Add(1)

		go func(i int, m models.PathMapping) {
			defer wg.Done()
			defer func() { <-semaphore }()

			res := e.runMapping(ctx, m, creds, local, ignore, project.CheckContent)
			results[i] = res

			if res.err != nil {
				logger.Warn("mapping failed",
					zap.String("host", m.HostID),
					zap.String("root", m.RemoteRootPath),
					zap.Error(res.err))
			} else {
				logger.Debug("mapping checked",
					zap.String("host", m.HostID),
					zap.String("root", m.RemoteRootPath),
					zap.Int("paths", len(res.diffs)))
			}

			n := atomic.AddInt32(&done, 1)
			if e.opts.OnMappingDone != nil {
				e.opts.OnMappingDone(int(n), total)
			}
		}(i, m)
	}

	wg.Wait()
	return results
}

func (e *Engine) runMapping(ctx context.Context, m models.PathMapping, creds map[string]models.HostCredential,
	local *models.FileIndex, ignore *regexp.Regexp, checkContent bool) mappingResult {

	cred, ok := creds[m.HostID]
	if !ok {
		return mappingResult{err: errors.NewValidationError(fmt.Sprintf("unknown host %q", m.HostID))}
	}

	sess, err := e.dial(ctx, cred)
	if err != nil {
		return mappingResult{err: err}
	}
	defer sess.Close()

	server, err := e.remote.Index(ctx, sess, m.RemoteRootPath, index.RemoteOptions{
		Ignore:      ignore,
		ComputeHash: checkContent,
		ExecTimeout: e.opts.ExecTimeout,
	})
	if err != nil {
		return mappingResult{err: err}
	}

	git := index.Filter(index.Project(local, m.GitSubdirectory), ignore)
	diffs := diff.Compute(git, server, checkContent)
	root := index.NormalizeRemoteRoot(m.RemoteRootPath)
	for i := range diffs {
		diffs[i].RemoteRoot = root
	}
	return mappingResult{diffs: diffs, truncated: server.Truncated || git.Truncated}
}

func (e *Engine) dial(ctx context.Context, cred models.HostCredential) (transport.Session, error) {
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, errors.NewConnectError(errors.ReasonTimeout, fmt.Sprintf("dial to %s not started", cred.Address()), err)
	}
	return e.dialer.Dial(ctx, cred, e.opts.ConnectTimeout)
}

// FileContent returns up to models.MaxFileContentBytes of a remote file and
// whether the file was longer than that
func (e *Engine) FileContent(ctx context.Context, cred models.HostCredential, remotePath string) ([]byte, bool, error) {
	if remotePath == "" {
		return nil, false, errors.NewValidationError("path is required")
	}

	sess, err := e.dial(ctx, cred)
	if err != nil {
		return nil, false, err
	}
	defer sess.Close()

	// One byte past the limit tells a full file from a cut one.
	line := fmt.Sprintf("head -c %d %s", models.MaxFileContentBytes+1, transport.ShellQuote(remotePath))
	res, err := sess.Exec(ctx, transport.Command{Line: line, Timeout: e.opts.ExecTimeout})
	if err != nil {
		return nil, false, err
	}

	content := []byte(res.Stdout)
	if len(content) > models.MaxFileContentBytes {
		return content[:models.MaxFileContentBytes], true, nil
	}
	return content, false, nil
}

// Cleanup removes the repository cache when the source keeps one
func (e *Engine) Cleanup() error {
	if c, ok := e.source.(interface{ Cleanup() error }); ok {
		return c.Cleanup()
	}
	return nil
}

func (e *Engine) finish(report *models.SyncReport, start time.Time) *models.SyncReport {
	report.Duration = time.Since(start)
	report.Summary = diff.Summarize(report.Results)
	return report
}

// hostOrder returns host IDs in order of first appearance
func hostOrder(mappings []models.PathMapping) []string {
	seen := make(map[string]bool, len(mappings))
	var order []string
	for _, m := range mappings {
		if !seen[m.HostID] {
			seen[m.HostID] = true
			order = append(order, m.HostID)
		}
	}
	return order
}

func hostLabel(creds map[string]models.HostCredential, id string) string {
	if c, ok := creds[id]; ok {
		return c.DisplayName()
	}
	return id
}

// aggregate folds per-mapping results into one result per host
func aggregate(mappings []models.PathMapping, results []mappingResult, order []string,
	creds map[string]models.HostCredential) []models.HostSyncResult {

	perHost := make(map[string]int, len(order))
	for _, m := range mappings {
		perHost[m.HostID]++
	}

	byHost := make(map[string]*models.HostSyncResult, len(order))
	messages := make(map[string][]string, len(order))
	for _, id := range order {
		byHost[id] = &models.HostSyncResult{
			HostID:    id,
			HostLabel: hostLabel(creds, id),
			Outcome:   models.OutcomeOK,
			Diffs:     []models.FileDiff{},
		}
	}

	for i, m := range mappings {
		hr := byHost[m.HostID]
		res := results[i]
		if res.err != nil {
			hr.Outcome = models.OutcomeError
			msg := res.err.Error()
			if perHost[m.HostID] > 1 {
				msg = fmt.Sprintf("%s: %s", index.NormalizeRemoteRoot(m.RemoteRootPath), msg)
			}
			messages[m.HostID] = append(messages[m.HostID], msg)
			continue
		}
		hr.Diffs = append(hr.Diffs, res.diffs...)
		hr.Truncated = hr.Truncated || res.truncated
	}

	out := make([]models.HostSyncResult, 0, len(order))
	for _, id := range order {
		hr := byHost[id]
		hr.ErrorMessage = strings.Join(messages[id], "; ")
		out = append(out, *hr)
	}
	return out
}
