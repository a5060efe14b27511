package app

import (
	"fmt"
	"os"

	"chantier/internal/config"
)

// ResolveConfig loads chantier.yml from the workspace, seeding the default
// file on first use so a fresh workspace works without manual setup.
func ResolveConfig(workspace, nameOverride string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	name := nameOverride
	if name == "" {
		name = "chantier"
	}
	path := config.Path(workspace)
	if err := os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644); err != nil {
		return nil, fmt.Errorf("seed config %s: %w", path, err)
	}
	return config.FromFile(path)
}
