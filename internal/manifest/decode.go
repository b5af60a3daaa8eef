package manifest

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"skillhub/internal/skillerr"
)

//go:embed data/skill.schema.json
var schemaFS embed.FS

const schemaFile = "data/skill.schema.json"

// Decode parses and validates JSON manifest bytes.
func Decode(data []byte) (Manifest, error) {
	if err := validateSchema(data); err != nil {
		return Manifest{}, invalid(err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, invalid(err)
	}
	m = m.Normalize()
	if err := Validate(m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// DecodeYAML parses YAML manifest bytes. The document is converted to JSON
// and goes through the same schema as Decode.
func DecodeYAML(data []byte) (Manifest, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Manifest{}, invalid(err)
	}
	blob, err := json.Marshal(doc)
	if err != nil {
		return Manifest{}, invalid(err)
	}
	return Decode(blob)
}

// Load reads a manifest file, choosing the decoder by extension.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, skillerr.Filesystem("MFT_READ", skillerr.Path(path), skillerr.Cause(fmt.Errorf("%w: %w", skillerr.ErrSourceMissing, err)))
		}
		return Manifest{}, skillerr.Filesystem("MFT_READ", skillerr.Path(path), skillerr.Cause(err))
	}
	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		m, err = DecodeYAML(data)
	default:
		m, err = Decode(data)
	}
	if err != nil {
		var se *skillerr.Error
		if errors.As(err, &se) && se.Path == "" {
			se.Path = path
		}
		return Manifest{}, err
	}
	return m, nil
}

// FindInDir returns the manifest path inside dir, preferring FileName.
func FindInDir(dir string) (string, error) {
	for _, name := range append([]string{FileName}, YAMLFileNames...) {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", skillerr.Validation("MFT_MISSING",
		skillerr.Messagef("no %s found", FileName),
		skillerr.Path(dir),
		skillerr.Cause(skillerr.ErrInvalidManifest))
}

// LoadDir locates and loads the manifest of a skill directory.
func LoadDir(dir string) (Manifest, string, error) {
	p, err := FindInDir(dir)
	if err != nil {
		return Manifest{}, "", err
	}
	m, err := Load(p)
	if err != nil {
		return Manifest{}, "", err
	}
	return m, p, nil
}

// Encode renders m as indented JSON.
func Encode(m Manifest) ([]byte, error) {
	blob, err := json.MarshalIndent(m.Normalize(), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(blob, '\n'), nil
}

// Validate checks the semantic rules the schema cannot express.
func Validate(m Manifest) error {
	if strings.TrimSpace(m.ID) == "" {
		return invalid(errors.New("empty id"))
	}
	if !ValidID(m.ID) {
		return skillerr.Validation("MFT_INVALID", skillerr.Skill(m.ID),
			skillerr.Cause(fmt.Errorf("%w: id must match %s", skillerr.ErrInvalidManifest, idPattern.String())))
	}
	if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.Version) == "" {
		return skillerr.Validation("MFT_INVALID", skillerr.Skill(m.ID),
			skillerr.Cause(fmt.Errorf("%w: name and version are required", skillerr.ErrInvalidManifest)))
	}
	seen := map[string]struct{}{}
	for _, h := range m.Adapters {
		if h.ProductID == "" {
			return skillerr.Validation("MFT_INVALID", skillerr.Skill(m.ID),
				skillerr.Cause(fmt.Errorf("%w: adapter hint missing productID", skillerr.ErrInvalidManifest)))
		}
		if _, ok := seen[h.ProductID]; ok {
			return skillerr.Validation("MFT_INVALID", skillerr.Skill(m.ID), skillerr.Product(h.ProductID),
				skillerr.Cause(fmt.Errorf("%w: duplicate adapter hint", skillerr.ErrInvalidManifest)))
		}
		seen[h.ProductID] = struct{}{}
		if h.InstallMode == ModeUnknown {
			return skillerr.Validation("MFT_INVALID", skillerr.Skill(m.ID), skillerr.Product(h.ProductID),
				skillerr.Cause(fmt.Errorf("%w: unrecognized install mode", skillerr.ErrInvalidManifest)))
		}
	}
	return nil
}

func invalid(err error) error {
	return skillerr.Validation("MFT_INVALID", skillerr.Cause(fmt.Errorf("%w: %w", skillerr.ErrInvalidManifest, err)))
}

func validateSchema(data []byte) error {
	schemaData, err := schemaFS.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("read embedded schema: %w", err)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaData),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	if len(msgs) == 1 {
		return errors.New(msgs[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d schema errors:", len(msgs))
	for i, msg := range msgs {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, msg)
	}
	return errors.New(b.String())
}
