package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/solvd/internal/diffstat"
	"github.com/fyrsmithlabs/solvd/internal/forge"
	"github.com/fyrsmithlabs/solvd/internal/sandbox"
	"github.com/fyrsmithlabs/solvd/internal/secrets"
	"github.com/fyrsmithlabs/solvd/internal/solve"
)

const (
	repoDir         = "repo"
	credentialsFile = ".solvd/git-credentials"
)

// errNoChanges fails a run whose agent left the tree untouched.
var errNoChanges = errors.New("agent produced no changes")

// execution is the state of one Execute call.
type execution struct {
	p      *Pipeline
	job    Job
	diag   *diagnostics
	branch string

	stage     Stage
	sb        sandbox.Sandbox
	manifests []manifest
	testCmd   string
	out       Outcome
}

func (e *execution) run(ctx context.Context) Outcome {
	e.out.BranchName = e.branch

	now := e.p.now()
	e.record(ctx, solve.RunPatch{
		Status:     solve.Ptr(solve.StatusRunning),
		BranchName: solve.Ptr(e.branch),
		StartedAt:  &now,
	})

	steps := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{StageProvision, e.provision},
		{StageCredentials, e.credentials},
		{StageClone, e.clone},
		{StageInstall, e.install},
		{StageBaseline, e.baseline},
		{StageAgent, e.agent},
		{StageDiffStat, e.diffstat},
		{StageTest, e.test},
	}
	for _, s := range steps {
		if err := e.do(ctx, s.stage, s.fn); err != nil {
			return e.fail(ctx, s.stage, err)
		}
	}

	// A failing candidate is never proposed upstream.
	if e.out.TestsPassed {
		if err := e.do(ctx, StagePublish, e.publish); err != nil {
			return e.fail(ctx, StagePublish, err)
		}
	}

	e.out.Status = solve.StatusCompleted
	return e.out
}

// do runs one stage inside its own span.
func (e *execution) do(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.stage = stage

	ctx, span := e.p.tracer.Start(ctx, "pipeline."+string(stage))
	defer span.End()
	start := time.Now()

	err := fn(ctx)

	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.p.metrics.stageDuration.WithLabelValues(string(stage), result).Observe(time.Since(start).Seconds())
	e.p.logger.Debug(ctx, "stage finished",
		zap.String("stage", string(stage)),
		zap.String("result", result),
		zap.Duration("duration", time.Since(start)))
	return err
}

// fail classifies err and turns the outcome FAILED.
func (e *execution) fail(ctx context.Context, stage Stage, err error) Outcome {
	if budgetError(ctx, err) {
		err = ErrTimeBudgetExceeded
	} else if errors.Is(err, context.Canceled) {
		err = errors.New("cancelled")
	}
	kind := solve.KindPipelineStage
	if stage == StageProvision {
		kind = solve.KindProvisioning
	}

	if msg := e.scrub(err.Error()); msg != err.Error() {
		err = errors.New(msg)
	}

	e.out.Status = solve.StatusFailed
	e.out.Stage = stage
	e.out.Err = solve.Wrap(kind, string(stage), err)
	e.diag.note(stage, "failed: %v", e.out.Err)

	e.p.logger.Warn(ctx, "pipeline stage failed",
		zap.String("stage", string(stage)),
		zap.String("kind", string(kind)),
		zap.Error(e.out.Err))
	return e.out
}

// record writes a progress update. Persistence failures are logged and the
// update is dropped.
func (e *execution) record(ctx context.Context, patch solve.RunPatch) {
	if err := e.p.runs.UpdateRun(ctx, e.job.Run.ID, patch); err != nil {
		e.p.logger.Warn(ctx, "failed to record run progress", zap.Error(err))
	}
}

// scrub removes the job token and anything else that looks like a secret.
func (e *execution) scrub(s string) string {
	token := e.job.Token.Value()
	if e.p.scrubber != nil {
		return e.p.scrubber.Scrub(s, token)
	}
	return secrets.ScrubKnown(s, token)
}

// exec runs cmd and records its output. A non-zero exit is returned as
// an error unless tolerated.
func (e *execution) exec(ctx context.Context, stage Stage, cmd string, tolerate bool) (sandbox.Result, error) {
	res, err := e.sb.Run(ctx, cmd)
	if err != nil {
		e.diag.note(stage, "could not run command: %v", err)
		return res, err
	}
	e.diag.add(stage, res.ExitCode, e.scrub(combined(res.Stdout, res.Stderr)))
	if !res.OK() && !tolerate {
		return res, fmt.Errorf("exit status %d", res.ExitCode)
	}
	return res, nil
}

func (e *execution) provision(ctx context.Context) error {
	env := map[string]string{
		"GIT_TERMINAL_PROMPT": "0",
		"SOLVD_SOLVE_ID":      e.job.Run.SolveID,
		"SOLVD_RUN_ID":        e.job.Run.ID,
	}
	sb, err := e.p.provider.Create(ctx, e.p.cfg.Template, env)
	if err != nil {
		return err
	}
	e.sb = sb
	e.out.SandboxID = sb.ID()
	e.p.metrics.sandboxesOpen.Inc()

	e.p.logger.Info(ctx, "sandbox provisioned",
		zap.String("sandbox_id", sb.ID()),
		zap.String("provider", e.p.provider.Name()))
	e.record(ctx, solve.RunPatch{SandboxID: solve.Ptr(sb.ID())})
	return nil
}

func (e *execution) credentials(ctx context.Context) error {
	if !e.job.Token.IsSet() {
		return errors.New("no credential for job owner")
	}
	line := fmt.Sprintf("https://x-access-token:%s@%s\n", e.job.Token.Value(), e.job.Repo.Host)
	if err := e.sb.WriteFile(ctx, credentialsFile, []byte(line), 0600); err != nil {
		return fmt.Errorf("writing credential store: %w", err)
	}
	_, err := e.exec(ctx, StageCredentials, strings.Join([]string{
		`git config --global credential.helper "store --file=$PWD/` + credentialsFile + `"`,
		"git config --global user.name solvd",
		"git config --global user.email solvd@users.noreply.github.com",
	}, " && "), false)
	return err
}

func (e *execution) clone(ctx context.Context) error {
	_, err := e.exec(ctx, StageClone, fmt.Sprintf("git clone --quiet --branch %s --single-branch %s %s",
		sandbox.Quote(e.job.Solve.BaseBranch), sandbox.Quote(e.job.Repo.CloneURL()), repoDir), false)
	return err
}

func (e *execution) install(ctx context.Context) error {
	res, err := e.exec(ctx, StageInstall, detectManifestsCmd(), false)
	if err != nil {
		return err
	}
	e.manifests = parseManifests(res.Stdout)
	e.testCmd = testCommand(e.p.cfg.TestCommand, e.manifests)
	if len(e.manifests) == 0 {
		e.diag.note(StageInstall, "no manifest found, skipping install")
		return nil
	}
	for _, m := range e.manifests {
		if _, err := e.exec(ctx, StageInstall, inRepo(m.install), false); err != nil {
			return fmt.Errorf("%s: %w", m.file, err)
		}
	}
	return nil
}

// baseline records how the suite behaves before any change. Its result
// never stops the pipeline.
func (e *execution) baseline(ctx context.Context) error {
	if e.testCmd == "" {
		e.diag.note(StageBaseline, "no test command, skipping")
		return nil
	}
	res, err := e.exec(ctx, StageBaseline, inRepo(e.testCmd), true)
	if err != nil && ctx.Err() != nil {
		return err
	}
	if err != nil {
		e.diag.note(StageBaseline, "baseline could not run: %v", err)
		return nil
	}
	e.diag.note(StageBaseline, "baseline passed=%t", res.OK())
	return nil
}

func (e *execution) agent(ctx context.Context) error {
	run := e.job.Run
	if _, err := e.exec(ctx, StageAgent, inRepo("git checkout --quiet -b "+sandbox.Quote(e.branch)), false); err != nil {
		return fmt.Errorf("creating branch: %w", err)
	}
	args := []string{
		e.p.cfg.AgentCommand,
		"--issue", strconv.Itoa(e.job.Solve.IssueNumber),
		"--repo", sandbox.Quote(e.job.Repo.CloneURL()),
		"--model", sandbox.Quote(run.Model),
		"--temperature", strconv.FormatFloat(run.Temperature, 'f', -1, 64),
		"--max-edits", strconv.Itoa(run.MaxEdits),
		"--evolution", sandbox.Quote(run.Evolution),
		"--branch", sandbox.Quote(e.branch),
	}
	_, err := e.exec(ctx, StageAgent, inRepo(strings.Join(args, " ")), false)
	return err
}

func (e *execution) diffstat(ctx context.Context) error {
	res, err := e.exec(ctx, StageDiffStat, inRepo("git add -A && git diff --cached --numstat "+
		sandbox.Quote("origin/"+e.job.Solve.BaseBranch)), false)
	if err != nil {
		return err
	}
	files, loc := diffstat.Parse(res.Stdout)
	e.out.FilesChanged = solve.Ptr(files)
	e.out.LOCChanged = solve.Ptr(loc)
	if files == 0 {
		return errNoChanges
	}
	return nil
}

// test is the pass/fail gate. A failing suite completes the run with
// tests_passed=false; only an inability to run at all fails it.
func (e *execution) test(ctx context.Context) error {
	if e.testCmd == "" {
		e.diag.note(StageTest, "no test command configured or detected")
		return nil
	}
	res, err := e.exec(ctx, StageTest, inRepo(e.testCmd), true)
	if err != nil {
		return err
	}
	e.out.TestsPassed = res.OK()
	return nil
}

func (e *execution) publish(ctx context.Context) error {
	run := e.job.Run
	msg := fmt.Sprintf("solvd: fix #%d (%s, t=%s)", e.job.Solve.IssueNumber, run.Model,
		strconv.FormatFloat(run.Temperature, 'f', -1, 64))
	cmd := "git diff --cached --quiet || git commit --quiet -m " + sandbox.Quote(msg)
	if _, err := e.exec(ctx, StagePublish, inRepo(cmd), false); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if _, err := e.exec(ctx, StagePublish, inRepo("git push --quiet origin "+sandbox.Quote("HEAD:refs/heads/"+e.branch)), false); err != nil {
		return fmt.Errorf("push: %w", err)
	}

	url, err := e.p.forge.CreatePullRequest(ctx, e.job.Token, forge.PullRequest{
		Repo:  e.job.Repo,
		Title: fmt.Sprintf("Fix #%d", e.job.Solve.IssueNumber),
		Body:  e.prBody(),
		Head:  e.branch,
		Base:  e.job.Solve.BaseBranch,
	})
	if err != nil {
		return fmt.Errorf("pull request: %w", err)
	}
	e.out.PRURL = url
	e.diag.note(StagePublish, "opened %s", url)
	return nil
}

func (e *execution) prBody() string {
	run := e.job.Run
	var b strings.Builder
	fmt.Fprintf(&b, "Candidate fix for #%d generated by solvd.\n\n", e.job.Solve.IssueNumber)
	fmt.Fprintf(&b, "| model | temperature | max edits | evolution |\n|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %s | %s | %d | %s |\n\n", run.Model,
		strconv.FormatFloat(run.Temperature, 'f', -1, 64), run.MaxEdits, run.Evolution)
	fmt.Fprintf(&b, "Solve `%s`, run `%s` (ordinal %d).\n", run.SolveID, run.ID, run.Ordinal)
	return b.String()
}

// cleanup closes the sandbox on a context that survives cancellation of
// the run, bounded by the close timeout.
func (e *execution) cleanup(ctx context.Context) {
	if e.sb == nil {
		return
	}
	sb := e.sb
	e.sb = nil

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.p.cfg.CloseTimeout)
	defer cancel()
	closeCtx, span := e.p.tracer.Start(closeCtx, "pipeline."+string(StageCleanup))
	defer span.End()
	span.SetAttributes(attribute.String("sandbox.id", sb.ID()))

	e.p.metrics.sandboxesOpen.Dec()
	if err := sb.Close(closeCtx); err != nil {
		span.RecordError(err)
		e.diag.note(StageCleanup, "close failed: %v", err)
		e.p.logger.Error(ctx, "failed to close sandbox",
			zap.String("sandbox_id", sb.ID()),
			zap.Error(err))
		return
	}
	e.p.logger.Debug(ctx, "sandbox closed", zap.String("sandbox_id", sb.ID()))
}

func inRepo(cmd string) string {
	return "cd " + repoDir + " && " + cmd
}
