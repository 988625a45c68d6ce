package strategy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadDir populates a Registry from every *.json file in dir, keying each
// compiled Program by its filename with the extension stripped (e.g.
// strategies/mean-reversion.json registers strategy_id "mean-reversion").
// There is no strategies table in scope: the registry is an external
// collaborator's output materialised to disk, the same precedent the
// teacher sets by loading config/stock_universe.json at startup rather
// than querying it from a table.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("strategy: read strategies dir %q: %w", dir, err)
	}

	reg := NewRegistry()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("strategy: read %q: %w", path, err)
		}
		program, err := Compile(data)
		if err != nil {
			return nil, fmt.Errorf("strategy: compile %q: %w", path, err)
		}
		strategyID := strings.TrimSuffix(entry.Name(), ".json")
		reg.Register(strategyID, program)
	}
	return reg, nil
}
