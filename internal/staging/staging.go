// Package staging moves skill payloads into canonical storage and protects
// product-owned artifacts before they are overwritten.
//
// Every tree replacement follows the same protocol: build the new tree in a
// uniquely named sibling, move the old tree aside to another unique sibling,
// rename the new tree into place, then drop the old one. A failed rename puts
// the old tree back before the error is returned.
package staging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"skillhub/internal/fsutil"
	"skillhub/internal/logging"
	"skillhub/internal/manifest"
	"skillhub/internal/skillerr"
	"skillhub/internal/store"
)

const (
	tmpInfix    = ".tmp-"
	backupInfix = ".bak-"

	// BackupTimeFormat names backup directories. Second granularity; clashes
	// inside one second get a numeric suffix.
	BackupTimeFormat = "20060102T150405Z"
)

// Pipeline owns the canonical skills tree and the backup tree under a root.
type Pipeline struct {
	root   string
	now    func() time.Time
	logger *slog.Logger

	// beforeCommit runs after the old destination was moved aside and before
	// the new tree is renamed into place.
	beforeCommit func(dest string) error
}

type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func New(root string, opts ...Option) *Pipeline {
	p := &Pipeline{
		root:   root,
		now:    time.Now,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) SkillsRoot() string { return store.SkillsRoot(p.root) }

func (p *Pipeline) BackupsRoot() string { return store.BackupsRoot(p.root) }

// SkillDir is the canonical staged location of skillID.
func (p *Pipeline) SkillDir(skillID string) string { return store.SkillDir(p.root, skillID) }

// IsStaged reports whether skillID has a canonical directory.
func (p *Pipeline) IsStaged(skillID string) bool { return fsutil.IsDir(p.SkillDir(skillID)) }

// Stage copies srcDir into the canonical location for skillID and returns
// that location. Afterwards the destination holds either the complete
// previous tree or the complete new one.
func (p *Pipeline) Stage(skillID, srcDir string) (dest string, err error) {
	if !manifest.ValidID(skillID) {
		return "", skillerr.Validation("STG_ID", skillerr.Skill(skillID),
			skillerr.Cause(fmt.Errorf("%w: invalid skill id", skillerr.ErrInvalidManifest)))
	}
	info, statErr := os.Stat(srcDir)
	if statErr != nil || !info.IsDir() {
		cause := statErr
		if cause == nil {
			cause = errors.New("not a directory")
		}
		return "", skillerr.Filesystem("STG_SOURCE", skillerr.Skill(skillID), skillerr.Path(srcDir),
			skillerr.Cause(fmt.Errorf("%w: %w", skillerr.ErrSourceMissing, cause)))
	}
	skillsRoot := p.SkillsRoot()
	if err := os.MkdirAll(skillsRoot, 0o755); err != nil {
		return "", skillerr.Filesystem("STG_LAYOUT", skillerr.Path(skillsRoot), skillerr.Cause(err))
	}
	dest = p.SkillDir(skillID)

	tmp := filepath.Join(skillsRoot, "."+skillID+tmpInfix+uuid.NewString())
	defer func() {
		if rmErr := os.RemoveAll(tmp); rmErr != nil {
			p.logger.Warn("failed to remove staging temp dir", "path", tmp, "error", rmErr)
		}
	}()
	if err := fsutil.CopyTree(srcDir, tmp); err != nil {
		return "", skillerr.Filesystem("STG_COPY", skillerr.Skill(skillID), skillerr.Path(srcDir), skillerr.Cause(err))
	}

	if err := p.replace(dest, tmp); err != nil {
		return "", skillerr.Filesystem("STG_COMMIT", skillerr.Skill(skillID), skillerr.Path(dest), skillerr.Cause(err))
	}
	p.logger.Info("skill staged", "skill", skillID, "path", dest)
	return dest, nil
}

// replace swaps tmp into dest, keeping the previous dest recoverable until
// the swap has succeeded.
func (p *Pipeline) replace(dest, tmp string) error {
	backup := filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+backupInfix+uuid.NewString())
	movedAside := true
	if err := os.Rename(dest, backup); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("move previous tree aside: %w", err)
		}
		movedAside = false
	}

	commitErr := error(nil)
	if p.beforeCommit != nil {
		commitErr = p.beforeCommit(dest)
	}
	if commitErr == nil {
		commitErr = os.Rename(tmp, dest)
	}
	if commitErr != nil {
		if movedAside {
			if restoreErr := os.Rename(backup, dest); restoreErr != nil {
				return fmt.Errorf("commit failed (%w) and restore failed: %w", commitErr, restoreErr)
			}
		}
		return commitErr
	}
	if movedAside {
		if err := os.RemoveAll(backup); err != nil {
			p.logger.Warn("failed to remove previous tree", "path", backup, "error", err)
		}
	}
	return nil
}

// Purge deletes the canonical payload of skillID. A missing payload is not
// an error.
func (p *Pipeline) Purge(skillID string) error {
	if !manifest.ValidID(skillID) {
		return skillerr.Validation("STG_ID", skillerr.Skill(skillID),
			skillerr.Cause(fmt.Errorf("%w: invalid skill id", skillerr.ErrInvalidManifest)))
	}
	dir := p.SkillDir(skillID)
	if err := os.RemoveAll(dir); err != nil {
		return skillerr.Filesystem("STG_PURGE", skillerr.Skill(skillID), skillerr.Path(dir), skillerr.Cause(err))
	}
	return nil
}

// Backup moves target out of the way into the backup tree, keyed by time,
// product and skill. It returns the backup location, or "" when target does
// not exist.
func (p *Pipeline) Backup(target, productID, skillID string) (string, error) {
	if _, err := os.Lstat(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", skillerr.Filesystem("STG_BACKUP", skillerr.Skill(skillID), skillerr.Product(productID),
			skillerr.Path(target), skillerr.Cause(err))
	}
	stamp := p.now().UTC().Format(BackupTimeFormat)
	parent := filepath.Join(p.BackupsRoot(), stamp, productID)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", skillerr.Filesystem("STG_BACKUP", skillerr.Skill(skillID), skillerr.Product(productID),
			skillerr.Path(parent), skillerr.Cause(err))
	}
	dest := filepath.Join(parent, skillID)
	for n := 1; ; n++ {
		exists, err := fsutil.Exists(dest)
		if err != nil {
			return "", skillerr.Filesystem("STG_BACKUP", skillerr.Path(dest), skillerr.Cause(err))
		}
		if !exists {
			break
		}
		dest = filepath.Join(parent, fmt.Sprintf("%s-%d", skillID, n))
	}
	if err := os.Rename(target, dest); err != nil {
		return "", skillerr.Filesystem("STG_BACKUP", skillerr.Skill(skillID), skillerr.Product(productID),
			skillerr.Path(target), skillerr.Cause(err))
	}
	p.logger.Info("product artifact backed up", "product", productID, "skill", skillID, "from", target, "to", dest)
	return dest, nil
}

// BackupEntry is one recoverable artifact in the backup tree.
type BackupEntry struct {
	Timestamp string `json:"timestamp"`
	ProductID string `json:"productId"`
	SkillID   string `json:"skillId"`
	Path      string `json:"path"`
}

// ListBackups enumerates the backup tree, newest first.
func (p *Pipeline) ListBackups() ([]BackupEntry, error) {
	root := p.BackupsRoot()
	stamps, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, skillerr.Filesystem("STG_BACKUP_LIST", skillerr.Path(root), skillerr.Cause(err))
	}
	var out []BackupEntry
	for _, stamp := range stamps {
		if !stamp.IsDir() {
			continue
		}
		products, err := os.ReadDir(filepath.Join(root, stamp.Name()))
		if err != nil {
			continue
		}
		for _, product := range products {
			if !product.IsDir() {
				continue
			}
			skills, err := os.ReadDir(filepath.Join(root, stamp.Name(), product.Name()))
			if err != nil {
				continue
			}
			for _, skill := range skills {
				out = append(out, BackupEntry{
					Timestamp: stamp.Name(),
					ProductID: product.Name(),
					SkillID:   skill.Name(),
					Path:      filepath.Join(root, stamp.Name(), product.Name(), skill.Name()),
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

// RecoveryReport lists what Recover did.
type RecoveryReport struct {
	Restored       []string `json:"restored,omitempty"`
	DroppedBackups []string `json:"droppedBackups,omitempty"`
	RemovedTemps   []string `json:"removedTemps,omitempty"`
}

// Recover cleans up after interrupted stagings. When a destination is
// missing, the newest orphaned backup sibling (by modification time) is
// moved back into place. Every other backup sibling is redundant and
// removed. Temp siblings are removed.
func (p *Pipeline) Recover() (RecoveryReport, error) {
	var report RecoveryReport
	dir := p.SkillsRoot()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report, nil
		}
		return report, skillerr.Filesystem("STG_RECOVER", skillerr.Path(dir), skillerr.Cause(err))
	}
	type orphan struct {
		path    string
		modTime time.Time
	}
	backups := map[string][]orphan{}
	var skillIDs []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)
		switch {
		case strings.Contains(name, tmpInfix):
			if err := os.RemoveAll(full); err != nil {
				return report, skillerr.Filesystem("STG_RECOVER", skillerr.Path(full), skillerr.Cause(err))
			}
			report.RemovedTemps = append(report.RemovedTemps, full)
		case strings.Contains(name, backupInfix):
			info, err := e.Info()
			if err != nil {
				return report, skillerr.Filesystem("STG_RECOVER", skillerr.Path(full), skillerr.Cause(err))
			}
			skillID := strings.TrimPrefix(name[:strings.Index(name, backupInfix)], ".")
			if _, seen := backups[skillID]; !seen {
				skillIDs = append(skillIDs, skillID)
			}
			backups[skillID] = append(backups[skillID], orphan{path: full, modTime: info.ModTime()})
		}
	}

	for _, skillID := range skillIDs {
		candidates := backups[skillID]
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].modTime.After(candidates[j].modTime) })
		dest := p.SkillDir(skillID)
		exists, err := fsutil.Exists(dest)
		if err != nil {
			return report, skillerr.Filesystem("STG_RECOVER", skillerr.Path(dest), skillerr.Cause(err))
		}
		if !exists {
			newest := candidates[0].path
			if err := os.Rename(newest, dest); err != nil {
				return report, skillerr.Filesystem("STG_RECOVER", skillerr.Skill(skillID), skillerr.Path(newest), skillerr.Cause(err))
			}
			p.logger.Info("restored interrupted staging", "skill", skillID, "path", dest, "from", newest)
			report.Restored = append(report.Restored, dest)
			candidates = candidates[1:]
		}
		for _, c := range candidates {
			if err := os.RemoveAll(c.path); err != nil {
				return report, skillerr.Filesystem("STG_RECOVER", skillerr.Path(c.path), skillerr.Cause(err))
			}
			report.DroppedBackups = append(report.DroppedBackups, c.path)
		}
	}
	return report, nil
}

// Orphans lists leftover temp and backup siblings without touching them.
func (p *Pipeline) Orphans() []string {
	entries, err := os.ReadDir(p.SkillsRoot())
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") && (strings.Contains(name, tmpInfix) || strings.Contains(name, backupInfix)) {
			out = append(out, filepath.Join(p.SkillsRoot(), name))
		}
	}
	return out
}
