package adapter

import "skillhub/internal/skillerr"

// ConfigPatcher applies and reverts configuration patches for products that
// register skills through their config file. Applied reports whether the
// product config currently carries the patch for skillID.
type ConfigPatcher interface {
	Apply(productID, skillID string, patch map[string]string) error
	Revert(productID, skillID string) error
	Applied(productID, skillID string) (bool, error)
}

// UnimplementedPatcher is the default ConfigPatcher. Every call fails with
// ErrUnimplemented.
type UnimplementedPatcher struct{}

func (UnimplementedPatcher) Apply(productID, skillID string, _ map[string]string) error {
	return unimplemented(productID, skillID)
}

func (UnimplementedPatcher) Revert(productID, skillID string) error {
	return unimplemented(productID, skillID)
}

// Applied is always false: nothing can have been patched.
func (UnimplementedPatcher) Applied(string, string) (bool, error) { return false, nil }

func unimplemented(productID, skillID string) error {
	return skillerr.Adapter("ADP_CONFIG_PATCH", skillerr.Product(productID), skillerr.Skill(skillID),
		skillerr.Message("config patching is not implemented"),
		skillerr.Cause(skillerr.ErrUnimplemented))
}
