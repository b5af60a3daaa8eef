// Package app wires the store, staging pipeline, adapter registry, importer
// and update checker into the operations the CLI exposes.
package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"skillhub/internal/adapter"
	"skillhub/internal/audit"
	"skillhub/internal/config"
	"skillhub/internal/doctor"
	"skillhub/internal/git"
	"skillhub/internal/harvest"
	"skillhub/internal/importer"
	"skillhub/internal/logging"
	"skillhub/internal/manifest"
	"skillhub/internal/scheduler"
	"skillhub/internal/security"
	"skillhub/internal/skillerr"
	"skillhub/internal/staging"
	"skillhub/internal/store"
	"skillhub/internal/updates"
)

// GitClient is everything the service needs from git: update checks and
// fetching remote sources.
type GitClient interface {
	updates.Git
	importer.Repo
}

type Options struct {
	ConfigPath string
	// Config, when set, is used as-is instead of loading ConfigPath.
	Config *config.Config
	// StorageRoot overrides the configured storage root.
	StorageRoot string
	Env         *adapter.Env
	Git         GitClient
	Patcher     adapter.ConfigPatcher
	Logger      *slog.Logger
	// LogOutput receives log lines when Logger is nil. Defaults to stderr.
	LogOutput io.Writer
	Clock     func() time.Time
	// Scheduler replaces the OS timer manager used by Schedule.
	Scheduler *scheduler.Manager
}

type Service struct {
	ConfigPath string
	Config     config.Config
	Root       string

	Store     *store.Store
	Staging   *staging.Pipeline
	Registry  *adapter.Registry
	Importer  *importer.Importer
	Scanner   *security.Scanner
	Updates   *updates.Checker
	Doctor    *doctor.Service
	Harvest   *harvest.Service
	Scheduler *scheduler.Manager
	Audit     *audit.Logger

	env     adapter.Env
	patcher adapter.ConfigPatcher
	logger  *slog.Logger
}

func New(opts Options) (*Service, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	var cfg config.Config
	if opts.Config != nil {
		cfg = config.Normalize(*opts.Config)
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	} else {
		loaded, err := config.Ensure(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := opts.Logger
	if logger == nil {
		out := opts.LogOutput
		if out == nil {
			out = os.Stderr
		}
		logger = logging.New(cfg.Logging.LoggerOptions(out)...)
	}

	root := opts.StorageRoot
	if root == "" {
		var err error
		if root, err = config.ResolveStorageRoot(cfg); err != nil {
			return nil, err
		}
	}
	if err := store.EnsureLayout(root); err != nil {
		return nil, skillerr.Filesystem("APP_LAYOUT", skillerr.Path(root), skillerr.Cause(err))
	}

	env := adapter.DefaultEnv()
	if opts.Env != nil {
		env = *opts.Env
	}
	var gitClient GitClient = git.New(nil)
	if opts.Git != nil {
		gitClient = opts.Git
	}

	storeOpts := []store.Option{store.WithLogger(logger)}
	stagingOpts := []staging.Option{staging.WithLogger(logger)}
	if opts.Clock != nil {
		storeOpts = append(storeOpts, store.WithClock(opts.Clock))
		stagingOpts = append(stagingOpts, staging.WithClock(opts.Clock))
	}

	s := &Service{
		ConfigPath: configPath,
		Config:     cfg,
		Root:       root,
		Store:      store.Open(root, storeOpts...),
		Staging:    staging.New(root, stagingOpts...),
		Importer: importer.New(importer.Options{
			CacheRoot:    store.CacheRoot(root),
			Repo:         gitClient,
			AllowedHosts: cfg.Updates.AllowedHosts,
			Logger:       logger,
		}),
		Scanner: security.NewScanner(cfg.Scan),
		Updates: updates.NewChecker(gitClient,
			updates.WithLogger(logger), updates.WithAllowedHosts(cfg.Updates.AllowedHosts)),
		Audit:   audit.New(store.AuditPath(root)),
		env:     env,
		patcher: opts.Patcher,
		logger:  logger,
	}
	if err := s.refreshRegistry(); err != nil {
		return nil, err
	}
	s.Harvest = &harvest.Service{Registry: s.Registry, Registered: s.isRegistered}
	s.Scheduler = opts.Scheduler
	if s.Scheduler == nil {
		s.Scheduler = scheduler.New(scheduler.Options{ConfigPath: configPath})
	}
	s.Doctor = &doctor.Service{
		ConfigPath:   configPath,
		Store:        s.Store,
		Staging:      s.Staging,
		Registry:     s.Registry,
		AllowedHosts: cfg.Updates.AllowedHosts,
	}
	return s, nil
}

// refreshRegistry rebuilds the adapters from the config's custom products and
// the skills directory overrides kept in state.
func (s *Service) refreshRegistry() error {
	overrides := map[string]string{}
	st, err := s.Store.Load()
	if err != nil {
		s.logger.Warn("ignoring product path overrides from unreadable state", "error", err)
	} else {
		overrides = st.ProductConfigPathOverrides
	}
	reg, err := adapter.NewRegistry(adapter.RegistryOptions{
		Env:       s.env,
		Stager:    s.Staging,
		Products:  s.Config.Products,
		Overrides: overrides,
		Patcher:   s.patcher,
		Logger:    s.logger,
	})
	if err != nil {
		return err
	}
	s.Registry = reg
	if s.Doctor != nil {
		s.Doctor.Registry = reg
	}
	if s.Harvest != nil {
		s.Harvest.Registry = reg
	}
	return nil
}

func (s *Service) isRegistered(skillID string) bool {
	_, err := s.Store.Get(skillID)
	return err == nil
}

func (s *Service) SaveConfig() error {
	return config.Save(s.ConfigPath, s.Config)
}

// record appends an audit event. Audit failures never fail the operation.
func (s *Service) record(op, skill, product string, opErr error, fields map[string]string) {
	if err := s.Audit.Outcome(op, skill, product, opErr, fields); err != nil {
		s.logger.Warn("audit write failed", "operation", op, "error", err)
	}
}

type registerOptions struct {
	force bool
}

type RegisterOption func(*registerOptions)

// Force accepts payloads whose scan findings reach the blocking severity.
// Critical findings still fail.
func Force(force bool) RegisterOption {
	return func(o *registerOptions) { o.force = force }
}

// Register resolves source, scans and stages its payload and records the
// skill. Product bindings of an already registered skill are kept.
func (s *Service) Register(ctx context.Context, source string, opts ...RegisterOption) (store.Record, error) {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}
	rec, report, err := s.register(ctx, source, o)
	s.record("register", rec.ID(), "", err, map[string]string{
		"source":   source,
		"findings": strconv.Itoa(len(report.Findings)),
	})
	return rec, err
}

func (s *Service) register(ctx context.Context, source string, o registerOptions) (store.Record, security.Report, error) {
	var report security.Report
	resolved, err := s.Importer.Resolve(ctx, source)
	if err != nil {
		return store.Record{}, report, err
	}
	report, err = s.Scanner.ScanDir(resolved.Manifest.ID, resolved.Dir)
	if err != nil {
		return store.Record{Manifest: resolved.Manifest}, report, err
	}
	for _, f := range report.Findings {
		s.logger.Warn("scan finding", "skill", resolved.Manifest.ID, "rule", f.Rule,
			"severity", f.Severity.String(), "file", f.File, "detail", f.Detail)
	}
	if err := s.Scanner.Enforce(report, o.force); err != nil {
		return store.Record{Manifest: resolved.Manifest}, report, err
	}
	rec, err := s.stageAndRecord(resolved)
	return rec, report, err
}

func (s *Service) stageAndRecord(resolved importer.Resolved) (store.Record, error) {
	staged, err := s.Staging.Stage(resolved.Manifest.ID, resolved.Dir)
	if err != nil {
		return store.Record{Manifest: resolved.Manifest}, err
	}
	var opts []store.UpsertOption
	if resolved.Remote {
		opts = append(opts, store.WithOrigin(resolved.Dir, resolved.Commit))
	}
	manifestPath := filepath.Join(staged, filepath.Base(resolved.ManifestPath))
	rec, err := s.Store.UpsertSkill(resolved.Manifest, manifestPath, resolved.Source, opts...)
	if err != nil {
		return store.Record{Manifest: resolved.Manifest}, err
	}
	s.logger.Info("skill registered", "skill", rec.ID(), "version", rec.Manifest.Version, "source", resolved.Source)
	return rec, nil
}

func (s *Service) List() ([]store.Record, error) {
	return s.Store.List()
}

func (s *Service) Get(skillID string) (store.Record, error) {
	return s.Store.Get(skillID)
}

// Install prepares productID for skillID and records the deployment with the
// concrete mode it resolved to.
func (s *Service) Install(skillID, productID string, mode manifest.InstallMode) (manifest.InstallMode, error) {
	resolved, err := s.install(skillID, productID, mode)
	s.record("install", skillID, productID, err, map[string]string{"mode": string(resolved)})
	return resolved, err
}

func (s *Service) install(skillID, productID string, mode manifest.InstallMode) (manifest.InstallMode, error) {
	rec, err := s.Store.Get(skillID)
	if err != nil {
		return "", err
	}
	a, err := s.Registry.Get(productID)
	if err != nil {
		return "", err
	}
	resolved, err := a.Install(rec.Manifest, mode)
	if err != nil {
		return "", err
	}
	if err := s.Store.MarkDeployed(skillID, a.Descriptor().ID, resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

// Enable places skillID into productID. auto reuses the mode the skill was
// last deployed with, if any.
func (s *Service) Enable(skillID, productID string, mode manifest.InstallMode) (adapter.EnableResult, error) {
	res, err := s.enable(skillID, productID, mode)
	fields := map[string]string{"mode": string(res.Mode)}
	if res.BackupPath != "" {
		fields["backup"] = res.BackupPath
	}
	s.record("enable", skillID, productID, err, fields)
	return res, err
}

func (s *Service) enable(skillID, productID string, mode manifest.InstallMode) (adapter.EnableResult, error) {
	rec, err := s.Store.Get(skillID)
	if err != nil {
		return adapter.EnableResult{}, err
	}
	a, err := s.Registry.Get(productID)
	if err != nil {
		return adapter.EnableResult{}, err
	}
	pid := a.Descriptor().ID
	if mode == manifest.ModeAuto || mode == "" {
		if last, ok := rec.DeployMode(pid); ok {
			mode = last
		}
	}
	res, err := a.Enable(skillID, mode)
	if err != nil {
		return res, err
	}
	if err := s.Store.MarkDeployed(skillID, pid, res.Mode); err != nil {
		return res, err
	}
	if err := s.Store.SetEnabled(skillID, pid, true); err != nil {
		return res, err
	}
	return res, nil
}

// Disable removes the product artifact and clears the enabled flag. The
// deployment itself stays recorded.
func (s *Service) Disable(skillID, productID string) error {
	err := s.disable(skillID, productID)
	s.record("disable", skillID, productID, err, nil)
	return err
}

func (s *Service) disable(skillID, productID string) error {
	if _, err := s.Store.Get(skillID); err != nil {
		return err
	}
	a, err := s.Registry.Get(productID)
	if err != nil {
		return err
	}
	if err := a.Disable(skillID); err != nil {
		return err
	}
	return s.Store.SetEnabled(skillID, a.Descriptor().ID, false)
}

// Uninstall disables skillID in productID and forgets the deployment.
func (s *Service) Uninstall(skillID, productID string) error {
	err := s.uninstall(skillID, productID)
	s.record("uninstall", skillID, productID, err, nil)
	return err
}

func (s *Service) uninstall(skillID, productID string) error {
	if err := s.disable(skillID, productID); err != nil {
		return err
	}
	a, _ := s.Registry.Get(productID)
	return s.Store.MarkUndeployed(skillID, a.Descriptor().ID)
}

// Remove uninstalls skillID from every product it is deployed to and drops
// its record. purge also deletes the staged payload.
func (s *Service) Remove(skillID string, purge bool) error {
	err := s.remove(skillID, purge)
	s.record("remove", skillID, "", err, map[string]string{"purge": strconv.FormatBool(purge)})
	return err
}

func (s *Service) remove(skillID string, purge bool) error {
	rec, err := s.Store.Get(skillID)
	if err != nil {
		return err
	}
	for _, pid := range rec.DeployedProducts {
		a, err := s.Registry.Get(pid)
		if err != nil {
			s.logger.Warn("skipping unknown product while removing skill", "skill", skillID, "product", pid)
			continue
		}
		if err := a.Disable(skillID); err != nil {
			return err
		}
	}
	if err := s.Store.RemoveSkill(skillID); err != nil {
		return err
	}
	if purge {
		return s.Staging.Purge(skillID)
	}
	return nil
}

// ProductStatus is the status of one skill in one product.
type ProductStatus struct {
	ProductID string               `json:"productId"`
	Deployed  bool                 `json:"deployed"`
	Enabled   bool                 `json:"enabled"`
	Mode      manifest.InstallMode `json:"mode,omitempty"`
	Adapter   adapter.Status       `json:"adapter"`
}

type SkillStatus struct {
	Record   store.Record    `json:"record"`
	Products []ProductStatus `json:"products"`
}

// Status combines the recorded bindings of skillID with what every known
// product reports on disk.
func (s *Service) Status(skillID string) (SkillStatus, error) {
	rec, err := s.Store.Get(skillID)
	if err != nil {
		return SkillStatus{}, err
	}
	out := SkillStatus{Record: rec, Products: []ProductStatus{}}
	for _, d := range s.Registry.List() {
		a, _ := s.Registry.Get(d.ID)
		st, err := a.Status(skillID)
		if err != nil {
			return SkillStatus{}, err
		}
		if !rec.IsDeployed(d.ID) && !st.IsEnabled {
			continue
		}
		mode, _ := rec.DeployMode(d.ID)
		out.Products = append(out.Products, ProductStatus{
			ProductID: d.ID,
			Deployed:  rec.IsDeployed(d.ID),
			Enabled:   rec.IsEnabled(d.ID),
			Mode:      mode,
			Adapter:   st,
		})
	}
	return out, nil
}

// Drift is one disagreement between state and a product directory.
type Drift struct {
	SkillID   string `json:"skillId"`
	ProductID string `json:"productId"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
	Fixed     bool   `json:"fixed"`
}

const (
	DriftArtifactMissing = "artifactMissing"
	DriftUntracked       = "untracked"
	DriftUnknownProduct  = "unknownProduct"
)

// Reconcile compares state with the product directories. An enabled flag
// whose artifact is gone is cleared; artifacts enabled on disk but not in
// state and deployments to unknown products are only reported.
func (s *Service) Reconcile() ([]Drift, error) {
	drifts, err := s.reconcile()
	s.record("reconcile", "", "", err, map[string]string{"drifts": strconv.Itoa(len(drifts))})
	return drifts, err
}

func (s *Service) reconcile() ([]Drift, error) {
	records, err := s.Store.List()
	if err != nil {
		return nil, err
	}
	drifts := []Drift{}
	for _, rec := range records {
		for _, pid := range rec.DeployedProducts {
			if _, err := s.Registry.Get(pid); err != nil {
				drifts = append(drifts, Drift{SkillID: rec.ID(), ProductID: pid, Kind: DriftUnknownProduct,
					Detail: "deployed to a product that is not configured"})
			}
		}
		for _, d := range s.Registry.List() {
			a, _ := s.Registry.Get(d.ID)
			st, err := a.Status(rec.ID())
			if err != nil {
				return drifts, err
			}
			switch {
			case rec.IsEnabled(d.ID) && !st.IsEnabled:
				drift := Drift{SkillID: rec.ID(), ProductID: d.ID, Kind: DriftArtifactMissing, Detail: st.Detail}
				if err := s.Store.SetEnabled(rec.ID(), d.ID, false); err != nil {
					return drifts, err
				}
				drift.Fixed = true
				s.logger.Info("cleared stale enabled flag", "skill", rec.ID(), "product", d.ID, "detail", st.Detail)
				drifts = append(drifts, drift)
			case !rec.IsEnabled(d.ID) && st.IsEnabled:
				drifts = append(drifts, Drift{SkillID: rec.ID(), ProductID: d.ID, Kind: DriftUntracked, Detail: st.Detail})
			}
		}
	}
	return drifts, nil
}

// CheckUpdates checks every deployed skill and persists the update flag for
// each conclusive result. Unavailable results leave the flag untouched.
func (s *Service) CheckUpdates(ctx context.Context) ([]updates.Result, error) {
	results, err := s.checkUpdates(ctx)
	s.record("check-updates", "", "", err, map[string]string{"checked": strconv.Itoa(len(results))})
	return results, err
}

func (s *Service) checkUpdates(ctx context.Context) ([]updates.Result, error) {
	records, err := s.Store.List()
	if err != nil {
		return nil, err
	}
	current := make(map[string]bool, len(records))
	for _, rec := range records {
		current[rec.ID()] = rec.HasUpdate
	}
	results := s.Updates.CheckAll(ctx, records)
	for _, res := range results {
		if res.Status == updates.StatusUnavailable {
			continue
		}
		if current[res.SkillID] == res.HasUpdate() {
			continue
		}
		if err := s.Store.SetHasUpdate(res.SkillID, res.HasUpdate()); err != nil {
			return results, err
		}
	}
	return results, nil
}

// Products detects every known product.
func (s *Service) Products() []adapter.ProductDetection {
	return s.Registry.DetectAll()
}

// SetProductPath overrides the skills directory of productID. An empty path
// restores the default.
func (s *Service) SetProductPath(productID, path string) error {
	err := s.setProductPath(productID, path)
	s.record("product-path", "", productID, err, map[string]string{"path": path})
	return err
}

func (s *Service) setProductPath(productID, path string) error {
	a, err := s.Registry.Get(productID)
	if err != nil {
		return err
	}
	if path != "" {
		if path, err = config.ExpandPath(path); err != nil {
			return skillerr.Validation("APP_PRODUCT_PATH", skillerr.Product(productID), skillerr.Cause(err))
		}
	}
	if err := s.Store.SetProductConfigPath(a.Descriptor().ID, path); err != nil {
		return err
	}
	return s.refreshRegistry()
}

// AddProduct declares a custom product in the config file.
func (s *Service) AddProduct(p config.ProductConfig) (config.ProductConfig, error) {
	out, err := s.addProduct(p)
	s.record("product-add", "", out.ID, err, map[string]string{"skillsDir": out.SkillsDir})
	return out, err
}

func (s *Service) addProduct(p config.ProductConfig) (config.ProductConfig, error) {
	next := s.Config
	next.Products = append([]config.ProductConfig(nil), s.Config.Products...)
	if err := config.AddProduct(&next, p); err != nil {
		return p, err
	}
	added, _ := config.FindProduct(next, strings.ToLower(strings.TrimSpace(p.ID)))
	if err := config.Save(s.ConfigPath, next); err != nil {
		return added, err
	}
	s.Config = next
	return added, s.refreshRegistry()
}

// RemoveProduct drops a custom product from the config file.
func (s *Service) RemoveProduct(productID string) error {
	err := s.removeProduct(productID)
	s.record("product-remove", "", productID, err, nil)
	return err
}

func (s *Service) removeProduct(productID string) error {
	next := s.Config
	next.Products = append([]config.ProductConfig(nil), s.Config.Products...)
	if err := config.RemoveProduct(&next, productID); err != nil {
		return err
	}
	if err := config.Save(s.ConfigPath, next); err != nil {
		return err
	}
	s.Config = next
	return s.refreshRegistry()
}

// HarvestRun lists skills sitting unmanaged in product directories.
func (s *Service) HarvestRun(productID string) ([]harvest.Candidate, error) {
	return s.Harvest.Harvest(productID)
}

// Schedule installs the periodic update check. An empty interval means
// scheduler.DefaultPeriod.
func (s *Service) Schedule(ctx context.Context, interval string) (scheduler.Status, error) {
	st, err := s.Scheduler.Install(ctx, interval)
	for _, note := range st.Notes {
		s.logger.Warn("scheduler", "note", note)
	}
	s.record("schedule", "", "", err, map[string]string{"interval": st.Interval, "backend": st.Backend})
	return st, err
}

func (s *Service) Unschedule(ctx context.Context) (scheduler.Status, error) {
	st, err := s.Scheduler.Remove(ctx)
	s.record("unschedule", "", "", err, map[string]string{"backend": st.Backend})
	return st, err
}

func (s *Service) ScheduleStatus() (scheduler.Status, error) {
	return s.Scheduler.Current()
}

// Recover cleans up after interrupted stagings.
func (s *Service) Recover() (staging.RecoveryReport, error) {
	report, err := s.Staging.Recover()
	s.record("recover", "", "", err, map[string]string{"restored": strconv.Itoa(len(report.Restored))})
	return report, err
}

func (s *Service) Backups() ([]staging.BackupEntry, error) {
	return s.Staging.ListBackups()
}

func (s *Service) AuditLog(limit int) ([]audit.Event, error) {
	return s.Audit.Tail(limit)
}

func (s *Service) DoctorRun(ctx context.Context) doctor.Report {
	return s.Doctor.Run(ctx)
}
