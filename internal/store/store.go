package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"skillhub/internal/fsutil"
	"skillhub/internal/logging"
	"skillhub/internal/manifest"
	"skillhub/internal/skillerr"
)

// Store is the lock-protected, atomically written record of every skill and
// its product bindings. Every mutating call runs a full read-modify-write
// cycle under an exclusive advisory lock on a sibling lock file, so
// concurrent processes serialize their updates.
type Store struct {
	root   string
	now    func() time.Time
	logger *slog.Logger

	// beforeRename runs between the temp write and the rename of a save.
	beforeRename func(tmp string) error
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open returns a Store rooted at root. Nothing is read until the first call.
func Open(root string, opts ...Option) *Store {
	s := &Store{
		root:   root,
		now:    time.Now,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Root() string { return s.root }

func (s *Store) Path() string { return StatePath(s.root) }

// Load returns the current state, or an empty default when no state file
// exists yet. Renames make every write atomic, so no lock is needed to read.
func (s *Store) Load() (State, error) {
	return readState(s.Path())
}

// Save replaces the persisted state with st.
func (s *Store) Save(st State) error {
	return s.withLock(func() error {
		prev, err := readState(s.Path())
		if err != nil {
			prev = State{}
		}
		return s.write(st, prev.UpdatedAt)
	})
}

// Get returns the record for id.
func (s *Store) Get(id string) (Record, error) {
	st, err := s.Load()
	if err != nil {
		return Record{}, err
	}
	rec := st.Find(id)
	if rec == nil {
		return Record{}, notFound(id)
	}
	return *rec, nil
}

// List returns all records sorted by id.
func (s *Store) List() ([]Record, error) {
	st, err := s.Load()
	if err != nil {
		return nil, err
	}
	return st.Skills, nil
}

type UpsertOption func(*Record)

// WithOrigin records the git checkout and commit a skill was staged from.
func WithOrigin(repoDir, commit string) UpsertOption {
	return func(r *Record) {
		r.SourceRepo = repoDir
		r.SourceCommit = commit
	}
}

// UpsertSkill inserts a record for m or replaces the manifest, manifest path,
// source and origin of the existing one. Product bindings are left untouched.
func (s *Store) UpsertSkill(m manifest.Manifest, manifestPath, source string, opts ...UpsertOption) (Record, error) {
	if err := manifest.Validate(m); err != nil {
		return Record{}, err
	}
	var out Record
	err := s.mutate(func(st *State) error {
		rec := st.Find(m.ID)
		if rec == nil {
			st.Skills = append(st.Skills, Record{})
			rec = &st.Skills[len(st.Skills)-1]
		} else if cmp, ok := manifest.CompareVersions(m.Version, rec.Manifest.Version); ok && cmp < 0 {
			s.logger.Warn("skill version downgraded", "skill", m.ID, "from", rec.Manifest.Version, "to", m.Version)
		}
		rec.Manifest = m
		rec.ManifestPath = manifestPath
		rec.ManifestSource = source
		rec.SourceRepo, rec.SourceCommit = "", ""
		for _, opt := range opts {
			opt(rec)
		}
		rec.normalize()
		out = *rec
		return nil
	})
	return out, err
}

// MarkDeployed records that id is placed into productID with a concrete mode.
func (s *Store) MarkDeployed(id, productID string, mode manifest.InstallMode) error {
	if !mode.Concrete() {
		return skillerr.Validation("STATE_MODE", skillerr.Skill(id), skillerr.Product(productID),
			skillerr.Messagef("refusing to persist non-concrete mode %q", mode),
			skillerr.Cause(skillerr.ErrUnsupportedInstallMode))
	}
	return s.mutateRecord(id, func(rec *Record) error {
		rec.DeployedProducts = addToSet(rec.DeployedProducts, productID)
		rec.LastDeployModeByProduct[productID] = mode
		return nil
	})
}

// MarkUndeployed removes productID from every binding of id.
func (s *Store) MarkUndeployed(id, productID string) error {
	return s.mutateRecord(id, func(rec *Record) error {
		rec.DeployedProducts = removeFromSet(rec.DeployedProducts, productID)
		rec.EnabledProducts = removeFromSet(rec.EnabledProducts, productID)
		delete(rec.LastDeployModeByProduct, productID)
		return nil
	})
}

// SetEnabled toggles productID in id's enabled set. Enabling a product the
// skill is not deployed to fails with ErrNotDeployed.
func (s *Store) SetEnabled(id, productID string, enabled bool) error {
	return s.mutateRecord(id, func(rec *Record) error {
		if !enabled {
			rec.EnabledProducts = removeFromSet(rec.EnabledProducts, productID)
			return nil
		}
		if !rec.IsDeployed(productID) {
			return skillerr.Validation("STATE_NOT_DEPLOYED", skillerr.Skill(id), skillerr.Product(productID),
				skillerr.Cause(skillerr.ErrNotDeployed))
		}
		rec.EnabledProducts = addToSet(rec.EnabledProducts, productID)
		return nil
	})
}

func (s *Store) SetHasUpdate(id string, hasUpdate bool) error {
	return s.mutateRecord(id, func(rec *Record) error {
		rec.HasUpdate = hasUpdate
		return nil
	})
}

// SetProductConfigPath overrides where productID keeps its skills. An empty
// path clears the override.
func (s *Store) SetProductConfigPath(productID, path string) error {
	if productID == "" {
		return skillerr.Validation("STATE_PRODUCT", skillerr.Message("empty product id"))
	}
	return s.mutate(func(st *State) error {
		if path == "" {
			delete(st.ProductConfigPathOverrides, productID)
			return nil
		}
		st.ProductConfigPathOverrides[productID] = path
		return nil
	})
}

// RemoveSkill deletes id's record. Its staged payload is left in place.
func (s *Store) RemoveSkill(id string) error {
	return s.mutate(func(st *State) error {
		for i := range st.Skills {
			if st.Skills[i].ID() == id {
				st.Skills = append(st.Skills[:i], st.Skills[i+1:]...)
				return nil
			}
		}
		return notFound(id)
	})
}

func (s *Store) mutateRecord(id string, fn func(*Record) error) error {
	return s.mutate(func(st *State) error {
		rec := st.Find(id)
		if rec == nil {
			return notFound(id)
		}
		return fn(rec)
	})
}

// mutate runs fn against freshly loaded state and persists the result, all
// while holding the exclusive lock.
func (s *Store) mutate(fn func(*State) error) error {
	return s.withLock(func() error {
		st, err := readState(s.Path())
		if err != nil {
			return err
		}
		prev := st.UpdatedAt
		if err := fn(&st); err != nil {
			return err
		}
		return s.write(st, prev)
	})
}

func (s *Store) withLock(fn func() error) error {
	if err := EnsureLayout(s.root); err != nil {
		return skillerr.Filesystem("STATE_LAYOUT", skillerr.Path(s.root), skillerr.Cause(err))
	}
	lock := flock.New(LockPath(s.root))
	if err := lock.Lock(); err != nil {
		return skillerr.State("STATE_LOCK", skillerr.Path(lock.Path()),
			skillerr.Cause(fmt.Errorf("%w: %w", skillerr.ErrLockFailed, err)))
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("state unlock failed", "path", lock.Path(), "error", err)
		}
	}()
	return fn()
}

// write persists st. UpdatedAt never moves backwards relative to prev.
func (s *Store) write(st State, prev time.Time) error {
	st.SchemaVersion = SchemaVersion
	now := s.now().UTC()
	if now.Before(prev) {
		now = prev
	}
	st.UpdatedAt = now
	blob, err := encodeState(st)
	if err != nil {
		return skillerr.State("STATE_ENCODE", skillerr.Cause(err))
	}
	if err := fsutil.AtomicWriteHook(s.Path(), blob, 0o644, s.beforeRename); err != nil {
		return skillerr.Filesystem("STATE_WRITE", skillerr.Path(s.Path()), skillerr.Cause(err))
	}
	s.logger.Debug("state saved", "path", s.Path(), "skills", len(st.Skills))
	return nil
}

func notFound(id string) error {
	return skillerr.Validation("STATE_NOT_FOUND", skillerr.Skill(id), skillerr.Cause(skillerr.ErrNotFound))
}
