package config

import (
	"fmt"
	"strings"
)

// AddProduct appends a custom product. Ids must be unique.
func AddProduct(cfg *Config, p ProductConfig) error {
	if cfg == nil {
		return fmt.Errorf("ADP_CONFIG_PRODUCT: nil config")
	}
	id := strings.ToLower(strings.TrimSpace(p.ID))
	if _, ok := FindProduct(*cfg, id); ok {
		return fmt.Errorf("ADP_CONFIG_PRODUCT: product %q already exists", id)
	}
	cfg.Products = append(cfg.Products, p)
	*cfg = Normalize(*cfg)
	return Validate(*cfg)
}

func RemoveProduct(cfg *Config, id string) error {
	if cfg == nil {
		return fmt.Errorf("ADP_CONFIG_PRODUCT: nil config")
	}
	for i, p := range cfg.Products {
		if p.ID == id {
			cfg.Products = append(cfg.Products[:i], cfg.Products[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("ADP_CONFIG_PRODUCT: product %q not found", id)
}

func FindProduct(cfg Config, id string) (ProductConfig, bool) {
	for _, p := range cfg.Products {
		if p.ID == id {
			return p, true
		}
	}
	return ProductConfig{}, false
}
