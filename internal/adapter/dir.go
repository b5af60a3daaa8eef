package adapter

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"

	"skillhub/internal/fsutil"
	"skillhub/internal/manifest"
	"skillhub/internal/skillerr"
)

// dirAdapter serves every product that discovers skills as entries of one
// directory: <skillsDir>/<skill id>.
type dirAdapter struct {
	desc       Descriptor
	detectPath string
	stager     Stager
	patcher    ConfigPatcher
	logger     *slog.Logger
}

func (d *dirAdapter) Descriptor() Descriptor {
	out := d.desc
	out.SupportedInstallModes = append([]manifest.InstallMode(nil), d.desc.SupportedInstallModes...)
	return out
}

func (d *dirAdapter) Detect() Detection {
	probe := d.detectPath
	if probe == "" {
		probe = d.desc.SkillsDir
	}
	info, err := os.Stat(probe)
	switch {
	case err == nil && info.IsDir():
		return Detection{IsDetected: true, Reason: fmt.Sprintf("%s exists", probe), Path: probe}
	case err == nil:
		return Detection{Reason: fmt.Sprintf("%s is not a directory", probe), Path: probe}
	case errors.Is(err, os.ErrNotExist):
		return Detection{Reason: fmt.Sprintf("%s not found", probe), Path: probe}
	default:
		return Detection{Reason: err.Error(), Path: probe}
	}
}

func (d *dirAdapter) ResolveInstallMode(requested manifest.InstallMode) (manifest.InstallMode, error) {
	return ResolveInstallMode(d.desc.ID, d.desc.SupportedInstallModes, requested)
}

func (d *dirAdapter) Install(m manifest.Manifest, mode manifest.InstallMode) (manifest.InstallMode, error) {
	if !d.stager.IsStaged(m.ID) {
		return manifest.ModeUnknown, skillerr.Validation("ADP_NOT_STAGED", skillerr.Skill(m.ID), skillerr.Product(d.desc.ID),
			skillerr.Path(d.stager.SkillDir(m.ID)), skillerr.Cause(skillerr.ErrNotStaged))
	}
	if mode == "" || mode == manifest.ModeAuto {
		if hint, ok := m.Hint(d.desc.ID); ok && hint.InstallMode != manifest.ModeAuto {
			mode = hint.InstallMode
		}
	}
	resolved, err := d.ResolveInstallMode(mode)
	if err != nil {
		return manifest.ModeUnknown, err
	}
	if resolved != manifest.ModeConfigPatch {
		if err := os.MkdirAll(d.desc.SkillsDir, 0o755); err != nil {
			return manifest.ModeUnknown, skillerr.Filesystem("ADP_TARGET", skillerr.Product(d.desc.ID),
				skillerr.Path(d.desc.SkillsDir), skillerr.Cause(err))
		}
	}
	return resolved, nil
}

func (d *dirAdapter) Enable(skillID string, mode manifest.InstallMode) (EnableResult, error) {
	resolved, err := d.ResolveInstallMode(mode)
	if err != nil {
		return EnableResult{}, err
	}
	src := d.stager.SkillDir(skillID)
	if !d.stager.IsStaged(skillID) {
		return EnableResult{}, skillerr.Validation("ADP_NOT_STAGED", skillerr.Skill(skillID), skillerr.Product(d.desc.ID),
			skillerr.Path(src), skillerr.Cause(skillerr.ErrNotStaged))
	}
	if resolved == manifest.ModeConfigPatch {
		var patch map[string]string
		if m, _, err := manifest.LoadDir(src); err == nil {
			if hint, ok := m.Hint(d.desc.ID); ok {
				patch = hint.ConfigPatch
			}
		}
		if err := d.patcher.Apply(d.desc.ID, skillID, patch); err != nil {
			return EnableResult{}, err
		}
		return EnableResult{Mode: resolved}, nil
	}

	target := d.target(skillID)
	res := EnableResult{Mode: resolved, Target: target}
	if err := os.MkdirAll(d.desc.SkillsDir, 0o755); err != nil {
		return EnableResult{}, d.fsErr("ADP_TARGET", skillID, d.desc.SkillsDir, err)
	}
	owned, exists := d.owns(skillID, target)
	var previous string
	switch {
	case owned:
		previous = filepath.Join(d.desc.SkillsDir, "."+skillID+".prev-"+uuid.NewString())
		if err := os.Rename(target, previous); err != nil {
			return EnableResult{}, d.fsErr("ADP_ENABLE", skillID, target, err)
		}
	case exists:
		backup, err := d.stager.Backup(target, d.desc.ID, skillID)
		if err != nil {
			return EnableResult{}, err
		}
		res.BackupPath = backup
	}

	if err := d.place(skillID, src, target, resolved); err != nil {
		restore := res.BackupPath
		if previous != "" {
			restore = previous
		}
		if restore != "" {
			if restoreErr := os.Rename(restore, target); restoreErr != nil {
				d.logger.Warn("failed to restore previous artifact", "from", restore, "target", target, "error", restoreErr)
			}
		}
		return EnableResult{}, err
	}
	if previous != "" {
		if err := os.RemoveAll(previous); err != nil {
			d.logger.Warn("failed to remove replaced artifact", "path", previous, "error", err)
		}
	}
	d.logger.Info("skill enabled", "product", d.desc.ID, "skill", skillID, "mode", resolved, "target", target)
	return res, nil
}

// place builds the artifact in a temp sibling and renames it onto target.
func (d *dirAdapter) place(skillID, src, target string, mode manifest.InstallMode) error {
	tmp := filepath.Join(d.desc.SkillsDir, "."+skillID+".tmp-"+uuid.NewString())
	defer os.RemoveAll(tmp)
	switch mode {
	case manifest.ModeSymlink:
		if err := os.Symlink(src, tmp); err != nil {
			return d.fsErr("ADP_SYMLINK", skillID, target, err)
		}
	case manifest.ModeCopy:
		if err := fsutil.CopyTree(src, tmp); err != nil {
			return d.fsErr("ADP_COPY", skillID, target, err)
		}
		if err := fsutil.WriteManagedMarker(tmp, skillID); err != nil {
			return d.fsErr("ADP_COPY", skillID, target, err)
		}
	}
	if err := os.Rename(tmp, target); err != nil {
		return d.fsErr("ADP_ENABLE", skillID, target, err)
	}
	return nil
}

func (d *dirAdapter) Disable(skillID string) error {
	target := d.target(skillID)
	owned, exists := d.owns(skillID, target)
	if !exists {
		patched, err := d.patched(skillID)
		if err != nil || !patched {
			return err
		}
		if err := d.patcher.Revert(d.desc.ID, skillID); err != nil {
			return err
		}
		d.logger.Info("skill disabled", "product", d.desc.ID, "skill", skillID, "mode", manifest.ModeConfigPatch)
		return nil
	}
	if !owned {
		return skillerr.Adapter("ADP_UNMANAGED", skillerr.Skill(skillID), skillerr.Product(d.desc.ID), skillerr.Path(target),
			skillerr.Message("refusing to remove an artifact skillhub did not create"),
			skillerr.Cause(skillerr.ErrUnmanagedArtifact))
	}
	if err := os.RemoveAll(target); err != nil {
		return d.fsErr("ADP_DISABLE", skillID, target, err)
	}
	d.logger.Info("skill disabled", "product", d.desc.ID, "skill", skillID, "target", target)
	return nil
}

func (d *dirAdapter) Status(skillID string) (Status, error) {
	target := d.target(skillID)
	st := Status{IsInstalled: d.stager.IsStaged(skillID), Target: target}
	info, err := os.Lstat(target)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Status{}, d.fsErr("ADP_STATUS", skillID, target, err)
		}
		patched, err := d.patched(skillID)
		if err != nil {
			return Status{}, err
		}
		if patched {
			st.Target = ""
			st.IsEnabled, st.Mode, st.Detail = true, manifest.ModeConfigPatch, "enabled (config patch)"
			return st, nil
		}
		if st.IsInstalled {
			st.Detail = "staged, not enabled"
		} else {
			st.Detail = "not staged"
		}
		return st, nil
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		if !d.linksToStaged(skillID, target) {
			st.Detail = "foreign symlink at target"
			return st, nil
		}
		if _, err := os.Stat(target); err != nil {
			st.Detail = "dangling symlink"
			return st, nil
		}
		st.IsEnabled, st.Mode, st.Detail = true, manifest.ModeSymlink, "enabled (symlink)"
	case info.IsDir() && fsutil.ManagedBy(target) == skillID:
		st.IsEnabled, st.Mode, st.Detail = true, manifest.ModeCopy, "enabled (copy)"
	default:
		st.Detail = "foreign artifact at target"
	}
	return st, nil
}

// patched asks the config patcher about skillID. Products without the
// configPatch mode are never patched.
func (d *dirAdapter) patched(skillID string) (bool, error) {
	if !slices.Contains(d.desc.SupportedInstallModes, manifest.ModeConfigPatch) {
		return false, nil
	}
	ok, err := d.patcher.Applied(d.desc.ID, skillID)
	if err != nil {
		return false, skillerr.Adapter("ADP_CONFIG_PATCH", skillerr.Skill(skillID), skillerr.Product(d.desc.ID), skillerr.Cause(err))
	}
	return ok, nil
}

func (d *dirAdapter) target(skillID string) string {
	return filepath.Join(d.desc.SkillsDir, skillID)
}

// owns reports whether target is the artifact Enable produces for skillID,
// and whether anything exists at target at all.
func (d *dirAdapter) owns(skillID, target string) (owned, exists bool) {
	info, err := os.Lstat(target)
	if err != nil {
		return false, false
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return d.linksToStaged(skillID, target), true
	}
	return info.IsDir() && fsutil.ManagedBy(target) == skillID, true
}

func (d *dirAdapter) linksToStaged(skillID, link string) bool {
	dest, err := os.Readlink(link)
	if err != nil {
		return false
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(filepath.Dir(link), dest)
	}
	return filepath.Clean(dest) == filepath.Clean(d.stager.SkillDir(skillID))
}

func (d *dirAdapter) fsErr(code, skillID, path string, err error) error {
	return skillerr.Filesystem(code, skillerr.Skill(skillID), skillerr.Product(d.desc.ID), skillerr.Path(path), skillerr.Cause(err))
}
