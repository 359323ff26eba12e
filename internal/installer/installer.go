package installer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/e14z/mcpx/internal/cache"
	"github.com/e14z/mcpx/internal/config"
	"github.com/e14z/mcpx/internal/multistep"
	"github.com/e14z/mcpx/internal/pkgmanager"
	"github.com/e14z/mcpx/internal/recovery"
	"github.com/e14z/mcpx/internal/registry"
	"github.com/e14z/mcpx/internal/sandbox"
	"github.com/e14z/mcpx/internal/verifier"
)

// DescriptorSource fetches package descriptors. Satisfied by
// *registry.Client.
type DescriptorSource interface {
	GetPackage(ctx context.Context, slug string) (*registry.Descriptor, error)
}

// Options tune a single InstallAndRun call.
type Options struct {
	// AuthEnv is merged over the descriptor's environment; API keys and
	// tokens come in here.
	AuthEnv map[string]string
	// Timeout bounds the run (not the install). Zero means the
	// sandbox default.
	Timeout time.Duration
	// Mode overrides server/oneshot classification.
	Mode sandbox.Mode
}

// AutoInstaller composes the registry client, ecosystem adapters,
// secure cache, verifier, multi-step executor, and process sandbox.
type AutoInstaller struct {
	settings *config.Settings
	registry DescriptorSource
	managers []pkgmanager.Manager
	cache    *cache.Manager
	verifier *verifier.Verifier
	sandbox  *sandbox.Sandbox
	steps    *multistep.Executor
	retrier  *recovery.Retrier
	log      *logrus.Entry
}

// New wires an AutoInstaller from its parts.
func New(settings *config.Settings, reg DescriptorSource, cm *cache.Manager, sb *sandbox.Sandbox, log *logrus.Entry) (*AutoInstaller, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	db, err := verifier.NewReputationDB()
	if err != nil {
		return nil, fmt.Errorf("loading reputation data: %w", err)
	}

	retrier := recovery.NewRetrier(log)
	if settings.MaxRetries > 0 {
		retrier.MaxAttempts = settings.MaxRetries
	}
	if settings.RetryBaseDelay > 0 {
		retrier.BaseDelay = settings.RetryBaseDelay
	}

	return &AutoInstaller{
		settings: settings,
		registry: reg,
		managers: pkgmanager.DefaultManagers(pkgmanager.SandboxRunner(sb), log),
		cache:    cm,
		verifier: verifier.New(db, log),
		sandbox:  sb,
		steps:    multistep.NewExecutor(sb, log),
		retrier:  retrier,
		log:      log,
	}, nil
}

// InstallAndRun installs slug (on cache miss) and starts it. It never
// returns an error: every failure is folded into the RunResult.
func (a *AutoInstaller) InstallAndRun(ctx context.Context, slug string, opts Options) *RunResult {
	var last *RunResult
	err := a.retrier.Do(ctx, func() error {
		res, err := a.attempt(ctx, slug, opts)
		if res != nil {
			last = res
		}
		return err
	})
	if err != nil {
		return failResult(err, last)
	}
	return last
}

// attempt is one full install-and-run pass.
func (a *AutoInstaller) attempt(ctx context.Context, slug string, opts Options) (*RunResult, error) {
	res := &RunResult{}

	desc, err := a.registry.GetPackage(ctx, slug)
	if err != nil {
		return res, err
	}

	command, err := SelectMethod(desc)
	if err != nil {
		return res, err
	}

	mgr, err := pkgmanager.Select(a.managers, command)
	if err != nil {
		return res, recovery.NewError(recovery.CategoryUnsupported, "selecting adapter", err)
	}
	res.PackageManager = mgr.Name()

	info, err := mgr.ParseInstallCommand(command)
	if err != nil {
		return res, err
	}

	version := info.Version
	if version == "" {
		version = "latest"
	}
	loc := a.cache.Locate(slug, version)
	res.CacheDir = loc.PackageDir

	if !a.cache.IsCached(slug, version) {
		if err := a.installWithTransaction(ctx, mgr, info, command, slug, version); err != nil {
			return res, err
		}
	} else {
		a.log.WithFields(logrus.Fields{"slug": slug, "version": version}).Debug("cache hit, skipping install")
	}

	exe, err := a.resolveExecutable(ctx, mgr, info, loc.PackageDir)
	if err != nil {
		return res, err
	}
	res.Command = exe.Command
	res.Args = exe.Args

	return a.runResolved(ctx, res, desc, exe, opts)
}

// runResolved executes the resolved command and applies the success
// semantics: a server counts as success while still running, an
// ordinary command only on a clean exit.
func (a *AutoInstaller) runResolved(ctx context.Context, res *RunResult, desc *registry.Descriptor, exe *pkgmanager.Executable, opts Options) (*RunResult, error) {
	env := make(map[string]string, len(desc.Env)+len(opts.AuthEnv))
	for k, v := range desc.Env {
		env[k] = v
	}
	for k, v := range opts.AuthEnv {
		env[k] = v
	}

	sres, err := a.sandbox.Execute(ctx, exe.Command, exe.Args, sandbox.Options{
		WorkDir: res.CacheDir,
		Env:     env,
		Timeout: opts.Timeout,
		Mode:    opts.Mode,
	})
	if sres != nil {
		res.ExitCode = sres.ExitCode
		res.PID = sres.PID
		res.ServerRunning = sres.ServerRunning
		res.Output = combinedOutput(sres)
	}
	if err != nil {
		return res, err
	}

	isServer := opts.Mode == sandbox.ModeServer || sandbox.IsServerCommand(exe.Command, exe.Args)
	switch {
	case sres.ServerRunning:
		res.Success = true
	case isServer && sres.ExitCode == -1:
		res.Success = true
		res.ServerRunning = true
	case sres.ExitCode == 0:
		res.Success = true
	default:
		return res, recovery.Errorf(recovery.CategoryExecution,
			"%s exited with code %d: %s", exe.Command, sres.ExitCode, strings.TrimSpace(sres.Stderr))
	}
	return res, nil
}

// installWithTransaction performs the cache-miss install path: every
// side effect is journaled so a failure leaves no partial state, the
// verifier gates the final commit, and the cache entry lands last.
func (a *AutoInstaller) installWithTransaction(ctx context.Context, mgr pkgmanager.Manager, info *pkgmanager.PackageInfo, command, slug, version string) (err error) {
	if a.settings.InstallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.settings.InstallTimeout)
		defer cancel()
	}

	tx := recovery.NewTransaction(a.cache, a.log)
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				a.log.WithError(rbErr).Warn("rollback incomplete")
			}
		}
	}()

	entry := &cache.Entry{
		Slug:    slug,
		Version: version,
		InstallationData: map[string]any{
			"command":         command,
			"package_manager": mgr.Name(),
			"package":         info.Name,
		},
	}

	err = a.cache.Add(entry, func(dir string) error {
		tx.Record(recovery.Operation{Type: recovery.OpCacheEntry, Slug: slug, Ver: version, Path: dir})

		if isComplexCommand(command) {
			if err := a.runInstallSteps(ctx, command, dir); err != nil {
				return err
			}
		} else {
			if err := mgr.Install(ctx, info, dir); err != nil {
				return err
			}
		}

		meta, err := mgr.Metadata(ctx, info, dir)
		if err != nil {
			a.log.WithError(err).Debug("package metadata unavailable")
		}
		entry.PackageMetadata = meta

		vres := a.verifier.Verify(verifier.Subject{
			Name:     info.Name,
			Version:  info.Version,
			Registry: info.Registry,
			Metadata: meta,
			Dir:      dir,
		})
		entry.Verification = verificationMap(vres)
		if !vres.Passed {
			if qErr := a.cache.Quarantine(slug, version, verdictSummary(vres)); qErr != nil {
				a.log.WithError(qErr).Warn("quarantine failed")
			}
			return recovery.Errorf(recovery.CategorySecurity,
				"package %s failed verification: %s", info.Name, verdictSummary(vres))
		}
		return nil
	})
	if err != nil {
		return err
	}

	tx.Commit()
	return nil
}

// runInstallSteps routes a complex install command through the
// multi-step executor.
func (a *AutoInstaller) runInstallSteps(ctx context.Context, command, dir string) error {
	steps, err := multistep.ParseCommand(command)
	if err != nil {
		return err
	}
	report, err := a.steps.Run(ctx, steps, dir)
	if err != nil {
		return err
	}
	a.log.WithFields(logrus.Fields{
		"steps":     len(report.Results),
		"final_dir": report.FinalDir,
	}).Debug("install steps complete")
	return nil
}

// verificationMap flattens a verifier result for the cache entry.
func verificationMap(r *verifier.Result) map[string]any {
	threats := make([]any, 0, len(r.Threats))
	for _, t := range r.Threats {
		threats = append(threats, map[string]any{
			"check":       t.Check,
			"severity":    string(t.Severity),
			"description": t.Description,
		})
	}
	return map[string]any{
		"passed":     r.Passed,
		"score":      r.Score,
		"confidence": r.Confidence,
		"threats":    threats,
		"warnings":   r.Warnings,
	}
}

// verdictSummary renders a short failure reason for logs and errors.
func verdictSummary(r *verifier.Result) string {
	if len(r.Threats) == 0 {
		return fmt.Sprintf("score %d", r.Score)
	}
	worst := r.Threats[0]
	for _, t := range r.Threats[1:] {
		if severityRank(t.Severity) > severityRank(worst.Severity) {
			worst = t
		}
	}
	return fmt.Sprintf("score %d, %s: %s", r.Score, worst.Severity, worst.Description)
}

func severityRank(s verifier.Severity) int {
	switch s {
	case verifier.SeverityCritical:
		return 3
	case verifier.SeverityHigh:
		return 2
	case verifier.SeverityMedium:
		return 1
	default:
		return 0
	}
}

// combinedOutput merges the captured streams, stdout first.
func combinedOutput(res *sandbox.Result) string {
	if res.Stderr == "" {
		return res.Stdout
	}
	if res.Stdout == "" {
		return res.Stderr
	}
	return res.Stdout + "\n" + res.Stderr
}
