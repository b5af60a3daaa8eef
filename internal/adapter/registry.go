package adapter

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"skillhub/internal/config"
	"skillhub/internal/logging"
	"skillhub/internal/manifest"
	"skillhub/internal/skillerr"
)

// Registry maps product ids to adapters.
type Registry struct {
	adapters map[string]ProductAdapter
}

type RegistryOptions struct {
	Env    Env
	Stager Stager
	// Products are custom product declarations. A custom product whose id
	// matches a built-in one is ignored.
	Products []config.ProductConfig
	// Overrides replaces the skills directory of the keyed product.
	Overrides map[string]string
	Patcher   ConfigPatcher
	Logger    *slog.Logger
}

func NewRegistry(opts RegistryOptions) (*Registry, error) {
	if opts.Stager == nil {
		return nil, fmt.Errorf("ADP_REGISTRY: nil stager")
	}
	logger := logging.OrDiscard(opts.Logger)
	patcher := opts.Patcher
	if patcher == nil {
		patcher = UnimplementedPatcher{}
	}
	r := &Registry{adapters: map[string]ProductAdapter{}}

	for _, b := range builtins(opts.Env) {
		r.adapters[b.id] = &dirAdapter{
			desc: Descriptor{
				ID: b.id, Name: b.name, SupportedInstallModes: b.modes,
				SkillsDir: b.skillsDir, Builtin: true,
			},
			detectPath: b.detectPath,
			stager:     opts.Stager,
			patcher:    patcher,
			logger:     logger,
		}
	}
	for _, p := range opts.Products {
		id := strings.ToLower(strings.TrimSpace(p.ID))
		if _, taken := r.adapters[id]; taken {
			logger.Warn("custom product shadowed by built-in product", "product", id)
			continue
		}
		skillsDir, err := config.ExpandPath(p.SkillsDir)
		if err != nil {
			return nil, skillerr.Validation("ADP_CONFIG_PRODUCT", skillerr.Product(id), skillerr.Cause(err))
		}
		detect := ""
		if p.DetectPath != "" {
			if detect, err = config.ExpandPath(p.DetectPath); err != nil {
				return nil, skillerr.Validation("ADP_CONFIG_PRODUCT", skillerr.Product(id), skillerr.Cause(err))
			}
		}
		modes := make([]manifest.InstallMode, 0, len(p.InstallModes))
		for _, raw := range p.InstallModes {
			mode := manifest.ParseInstallMode(raw)
			if !mode.Concrete() {
				return nil, skillerr.Validation("ADP_CONFIG_PRODUCT", skillerr.Product(id),
					skillerr.Messagef("unsupported install mode %q", raw), skillerr.Cause(skillerr.ErrUnsupportedInstallMode))
			}
			modes = append(modes, mode)
		}
		if len(modes) == 0 {
			modes = append(modes, linkOrCopy...)
		}
		name := p.Name
		if name == "" {
			name = id
		}
		r.adapters[id] = &dirAdapter{
			desc:       Descriptor{ID: id, Name: name, SupportedInstallModes: modes, SkillsDir: skillsDir},
			detectPath: detect,
			stager:     opts.Stager,
			patcher:    patcher,
			logger:     logger,
		}
	}
	for id, dir := range opts.Overrides {
		a, ok := r.adapters[id].(*dirAdapter)
		if !ok || dir == "" {
			continue
		}
		expanded, err := config.ExpandPath(dir)
		if err != nil {
			return nil, skillerr.Validation("ADP_OVERRIDE", skillerr.Product(id), skillerr.Cause(err))
		}
		a.desc.SkillsDir = expanded
	}
	return r, nil
}

// Get returns the adapter for productID.
func (r *Registry) Get(productID string) (ProductAdapter, error) {
	a, ok := r.adapters[strings.ToLower(productID)]
	if !ok {
		return nil, skillerr.Validation("ADP_NOT_FOUND", skillerr.Product(productID),
			skillerr.Messagef("unknown product %q", productID), skillerr.Cause(skillerr.ErrAdapterNotFound))
	}
	return a, nil
}

// List returns every descriptor sorted by id.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ProductDetection pairs a descriptor with its detection probe.
type ProductDetection struct {
	Descriptor
	Detection Detection `json:"detection"`
}

func (r *Registry) DetectAll() []ProductDetection {
	descs := r.List()
	out := make([]ProductDetection, 0, len(descs))
	for _, d := range descs {
		out = append(out, ProductDetection{Descriptor: d, Detection: r.adapters[d.ID].Detect()})
	}
	return out
}
