// Package pipeline runs the deployment stages in order for one validated
// request and records the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/hoist/internal/bootstrap"
	"github.com/joescharf/hoist/internal/deploy"
	"github.com/joescharf/hoist/internal/detect"
	"github.com/joescharf/hoist/internal/git"
	"github.com/joescharf/hoist/internal/models"
	"github.com/joescharf/hoist/internal/proxy"
	"github.com/joescharf/hoist/internal/remote"
	"github.com/joescharf/hoist/internal/runlog"
	"github.com/joescharf/hoist/internal/store"
	"github.com/joescharf/hoist/internal/transfer"
	"github.com/joescharf/hoist/internal/validate"
)

// StageError tells which stage a run failed in.
type StageError struct {
	Stage models.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

var titles = map[models.Stage]string{
	models.StageSync:      "Repository sync",
	models.StageDetect:    "Deployment method detection",
	models.StageConnect:   "Connectivity probe",
	models.StageBootstrap: "Host bootstrap",
	models.StageTransfer:  "Artifact transfer",
	models.StageDeploy:    "Application deployment",
	models.StageProxy:     "Reverse proxy configuration",
	models.StageValidate:  "Deployment validation",
}

// Title returns the human readable stage name.
func Title(s models.Stage) string {
	if t, ok := titles[s]; ok {
		return t
	}
	return string(s)
}

// Pipeline holds the stage implementations. Store may be nil.
type Pipeline struct {
	Git           git.Client
	Workspace     string
	Depth         int
	Dialer        remote.Dialer
	Bootstrap     *bootstrap.Bootstrapper
	SkipBootstrap bool
	Ignore        []string
	Deploy        *deploy.Executor
	Proxy         *proxy.Configurator
	Validate      *validate.Validator
	Store         store.Store
	Log           *runlog.Logger
	DryRun        bool
}

// state is what earlier stages hand to later ones.
type state struct {
	req    models.Request
	dir    string
	sync   *git.SyncResult
	method models.Method
	host   remote.Host
	pm     bootstrap.PackageManager
}

// skipped marks a stage that deliberately did nothing.
type skipped struct{ detail string }

func (s *skipped) Error() string { return s.detail }

func skip(format string, a ...any) error {
	return &skipped{detail: fmt.Sprintf(format, a...)}
}

type stageFunc func(ctx context.Context, st *state) (string, error)

// Run executes every stage for req. The returned run is always non-nil; a
// failure is returned as *StageError.
func (p *Pipeline) Run(ctx context.Context, req models.Request) (*models.Run, error) {
	run := &models.Run{
		RepoURL:   git.RedactURL(req.RepoURL),
		Branch:    req.Branch,
		Host:      req.Host,
		SSHUser:   req.SSHUser,
		AppPort:   req.AppPort,
		AppName:   req.AppName,
		Status:    models.RunStatusRunning,
		StartedAt: time.Now().UTC(),
		LogPath:   p.Log.Path,
	}
	p.createRun(ctx, run)

	st := &state{req: req}
	defer func() {
		if st.host != nil {
			_ = st.host.Close()
		}
	}()

	stages := []struct {
		stage models.Stage
		fn    stageFunc
	}{
		{models.StageSync, p.sync},
		{models.StageDetect, p.detect},
		{models.StageConnect, p.connect},
		{models.StageBootstrap, p.bootstrap},
		{models.StageTransfer, p.transfer},
		{models.StageDeploy, p.deploy},
		{models.StageProxy, p.proxy},
		{models.StageValidate, p.validate},
	}

	for i, s := range stages {
		if err := ctx.Err(); err != nil {
			return p.fail(ctx, run, st, s.stage, err)
		}
		p.Log.Stage(i+1, len(stages), Title(s.stage))

		started := time.Now().UTC()
		detail, err := s.fn(ctx, st)
		var sk *skipped
		switch {
		case errors.As(err, &sk):
			p.Log.Info("skipped: %s", sk.detail)
			p.addResult(ctx, run, s.stage, models.StageStatusSkipped, sk.detail, started)
		case err != nil:
			p.addResult(ctx, run, s.stage, models.StageStatusFailed, err.Error(), started)
			return p.fail(ctx, run, st, s.stage, err)
		default:
			p.Log.Success("%s", detail)
			p.addResult(ctx, run, s.stage, models.StageStatusSucceeded, detail, started)
		}
	}

	run.Status = models.RunStatusSucceeded
	p.end(ctx, run, st)
	return run, nil
}

func (p *Pipeline) fail(ctx context.Context, run *models.Run, st *state, stage models.Stage, err error) (*models.Run, error) {
	run.Status = models.RunStatusFailed
	if ctx.Err() != nil {
		run.Status = models.RunStatusAborted
		p.Log.Error("deployment aborted during %s", Title(stage))
	} else {
		p.Log.Error("%s failed: %v", Title(stage), err)
	}
	run.FailedStage = stage
	run.Error = err.Error()
	p.end(ctx, run, st)
	return run, &StageError{Stage: stage, Err: err}
}

func (p *Pipeline) end(ctx context.Context, run *models.Run, st *state) {
	now := time.Now().UTC()
	run.EndedAt = &now
	run.Method = st.method
	if st.sync != nil && !st.sync.NewHash.IsZero() {
		run.Commit = st.sync.NewHash.String()
	}
	if p.recording() {
		if err := p.Store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
			p.Log.Warning("record run: %v", err)
		}
	}
}

func (p *Pipeline) recording() bool {
	return p.Store != nil && !p.DryRun
}

func (p *Pipeline) createRun(ctx context.Context, run *models.Run) {
	if !p.recording() {
		return
	}
	if err := p.Store.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		p.Log.Warning("record run: %v", err)
		return
	}
	p.Log.Debug("run id %s", run.ID)
}

func (p *Pipeline) addResult(ctx context.Context, run *models.Run, stage models.Stage, status models.StageStatus, detail string, started time.Time) {
	if !p.recording() || run.ID == "" {
		return
	}
	err := p.Store.AddStageResult(context.WithoutCancel(ctx), &models.StageResult{
		RunID:     run.ID,
		Stage:     stage,
		Status:    status,
		Detail:    detail,
		StartedAt: started,
		EndedAt:   time.Now().UTC(),
	})
	if err != nil {
		p.Log.Warning("record stage %s: %v", stage, err)
	}
}

func (p *Pipeline) dry(format string, a ...any) {
	p.Log.Warning("[DRY-RUN] "+format, a...)
}

func targetFor(req models.Request) remote.Target {
	return remote.Target{
		Host:       req.Host,
		Port:       req.SSHPort,
		User:       req.SSHUser,
		KeyPath:    req.KeyPath,
		Passphrase: req.KeyPassphrase,
	}
}

// --- stages ---

func (p *Pipeline) sync(ctx context.Context, st *state) (string, error) {
	st.dir = git.LocalDir(p.Workspace, st.req.RepoURL)
	p.Log.Info("syncing %s (branch %s) into %s", git.RedactURL(st.req.RepoURL), st.req.Branch, st.dir)

	res, err := p.Git.Sync(ctx, git.SyncRequest{
		RepoURL: st.req.RepoURL,
		Branch:  st.req.Branch,
		Dir:     st.dir,
		Depth:   p.Depth,
	})
	if err != nil {
		return "", err
	}
	st.sync = res

	switch {
	case res.Cloned:
		return fmt.Sprintf("cloned %s at %s", st.req.Branch, short(res.NewHash.String())), nil
	case res.Changed():
		return fmt.Sprintf("updated %s to %s", short(res.OldHash.String()), short(res.NewHash.String())), nil
	default:
		return fmt.Sprintf("already up to date at %s", short(res.NewHash.String())), nil
	}
}

func (p *Pipeline) detect(_ context.Context, st *state) (string, error) {
	d, err := detect.Detect(st.dir)
	if err != nil {
		return "", err
	}
	st.method = d.Method
	return fmt.Sprintf("%s deployment (found %s)", d.Method, d.File), nil
}

func (p *Pipeline) connect(ctx context.Context, st *state) (string, error) {
	t := targetFor(st.req)
	if p.DryRun {
		return "", skip("dry run, not connecting to %s", t)
	}
	host, err := p.Dialer.Dial(ctx, t)
	if err != nil {
		return "", err
	}
	st.host = host
	return fmt.Sprintf("connected to %s", t), nil
}

func (p *Pipeline) bootstrap(ctx context.Context, st *state) (string, error) {
	if p.SkipBootstrap {
		if pm := p.Bootstrap.PackageManager; pm != bootstrap.Auto {
			st.pm = pm
		}
		return "", skip("bootstrap.skip is set")
	}
	if p.DryRun {
		pm := p.Bootstrap.PackageManager
		if pm == "" || pm == bootstrap.Auto {
			p.dry("package manager is detected on the host; showing apt")
			pm = bootstrap.Apt
		}
		st.pm = pm
		script, err := bootstrap.Script(pm, st.req.SSHUser, p.Bootstrap.ComposeCommand)
		if err != nil {
			return "", err
		}
		p.dryCommand(script)
		return "", skip("dry run")
	}

	pm, err := p.Bootstrap.Bootstrap(ctx, st.host, st.req.SSHUser)
	if err != nil {
		return "", err
	}
	st.pm = pm
	return fmt.Sprintf("docker, compose and nginx present (%s)", pm), nil
}

func (p *Pipeline) transfer(ctx context.Context, st *state) (string, error) {
	ign, err := transfer.LoadIgnore(st.dir, p.Ignore)
	if err != nil {
		return "", fmt.Errorf("%w: %w", transfer.ErrTransferFailed, err)
	}
	if p.DryRun {
		p.dry("copy %s to %s (ignoring %s)", st.dir, st.req.RemoteDir, strings.Join(ign.Patterns(), ", "))
		return "", skip("dry run")
	}

	stats, err := st.host.Sync(ctx, st.dir, st.req.RemoteDir, ign)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s to %s", stats, st.req.RemoteDir), nil
}

func (p *Pipeline) deploy(ctx context.Context, st *state) (string, error) {
	if p.DryRun {
		cmd, err := p.Deploy.Plan(st.method, st.req)
		if err != nil {
			return "", err
		}
		p.dryCommand(cmd)
		return "", skip("dry run")
	}

	out, err := p.Deploy.Deploy(ctx, st.host, st.method, st.req)
	if out != "" {
		p.Log.WithField("stage", models.StageDeploy).Debug(out)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s started with %s", st.req.AppName, st.method), nil
}

// configurator fills in the site path for the host's distribution when none
// is configured.
func (p *Pipeline) configurator(st *state) *proxy.Configurator {
	c := *p.Proxy
	if c.SitePath == "" {
		c.SitePath = proxy.SitePathFor(string(st.pm))
	}
	return &c
}

func (p *Pipeline) proxy(ctx context.Context, st *state) (string, error) {
	c := p.configurator(st)
	if p.DryRun {
		cmds, err := c.Plan(st.req.AppPort)
		if err != nil {
			return "", err
		}
		for _, c := range cmds {
			p.dryCommand(c)
		}
		return "", skip("dry run")
	}

	res, err := c.Apply(ctx, st.host, st.req.AppPort)
	if err != nil {
		return "", err
	}
	if !res.Changed {
		return fmt.Sprintf("nginx already proxies port 80 to %d", st.req.AppPort), nil
	}
	if res.BackupPath != "" {
		p.Log.Info("previous site saved to %s", res.BackupPath)
	}
	return fmt.Sprintf("nginx proxies port 80 to %d", st.req.AppPort), nil
}

func (p *Pipeline) validate(ctx context.Context, st *state) (string, error) {
	if p.DryRun {
		p.dryCommand(validate.ProbeCommand)
		return "", skip("dry run")
	}
	code, err := p.Validate.Validate(ctx, st.host)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("app answered HTTP %d", code), nil
}

func (p *Pipeline) dryCommand(cmd string) {
	for _, line := range strings.Split(strings.TrimRight(cmd, "\n"), "\n") {
		p.dry("%s", line)
	}
}

func short(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
