package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/relance/internal/ir"
)

// LoadDir compiles and validates the CUE rule files found in dir.
// Rules are returned in declaration order.
func LoadDir(dir string) ([]ir.RuleDefinition, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("rules directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("scan rules directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rules, err := CompileRules(value)
	if err != nil {
		return nil, err
	}
	if errs := ValidateRules(rules); len(errs) > 0 {
		return nil, errs[0]
	}
	return rules, nil
}

// CompileSource compiles and validates rules from CUE source text.
func CompileSource(src string) ([]ir.RuleDefinition, error) {
	value := cuecontext.New().CompileString(src)
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	rules, err := CompileRules(value)
	if err != nil {
		return nil, err
	}
	if errs := ValidateRules(rules); len(errs) > 0 {
		return nil, errs[0]
	}
	return rules, nil
}
