package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"skillhub/internal/skillerr"
)

// decodeState parses a state document. Missing optional fields default to
// empty collections and false.
func decodeState(path string, blob []byte) (State, error) {
	var st State
	if err := json.Unmarshal(blob, &st); err != nil {
		return State{}, skillerr.State("STATE_PARSE", skillerr.Path(path),
			skillerr.Cause(fmt.Errorf("%w: %w", skillerr.ErrStateCorrupted, err)))
	}
	if st.SchemaVersion > SchemaVersion {
		return State{}, skillerr.State("STATE_VERSION", skillerr.Path(path),
			skillerr.Messagef("unsupported schema version %d", st.SchemaVersion),
			skillerr.Cause(skillerr.ErrStateCorrupted))
	}
	seen := map[string]struct{}{}
	for _, rec := range st.Skills {
		id := rec.ID()
		if id == "" {
			return State{}, skillerr.State("STATE_SCHEMA", skillerr.Path(path),
				skillerr.Message("skill record missing manifest id"),
				skillerr.Cause(skillerr.ErrStateCorrupted))
		}
		if _, ok := seen[id]; ok {
			return State{}, skillerr.State("STATE_SCHEMA", skillerr.Path(path), skillerr.Skill(id),
				skillerr.Message("duplicate skill record"),
				skillerr.Cause(skillerr.ErrStateCorrupted))
		}
		seen[id] = struct{}{}
	}
	st.normalize()
	return st, nil
}

// encodeState renders st as indented JSON with every object's keys sorted.
func encodeState(st State) ([]byte, error) {
	st.normalize()
	blob, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(blob))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	// Maps marshal with sorted keys, which gives a stable document.
	out, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func readState(path string) (State, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			st := State{}
			st.normalize()
			return st, nil
		}
		return State{}, skillerr.State("STATE_READ", skillerr.Path(path), skillerr.Cause(err))
	}
	return decodeState(path, blob)
}

// CheckInvariants reports every record that breaks the binding invariants.
func CheckInvariants(st State) []error {
	var errs []error
	for _, rec := range st.Skills {
		for _, p := range rec.EnabledProducts {
			if !rec.IsDeployed(p) {
				errs = append(errs, skillerr.State("STATE_INVARIANT", skillerr.Skill(rec.ID()), skillerr.Product(p),
					skillerr.Message("enabled but not deployed")))
			}
		}
		for p, mode := range rec.LastDeployModeByProduct {
			if !rec.IsDeployed(p) {
				errs = append(errs, skillerr.State("STATE_INVARIANT", skillerr.Skill(rec.ID()), skillerr.Product(p),
					skillerr.Message("deploy mode recorded for undeployed product")))
			}
			if !mode.Concrete() {
				errs = append(errs, skillerr.State("STATE_INVARIANT", skillerr.Skill(rec.ID()), skillerr.Product(p),
					skillerr.Messagef("non-concrete deploy mode %q", mode)))
			}
		}
	}
	return errs
}
