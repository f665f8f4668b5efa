package harness

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SuiteResult summarizes a batch of scenario files.
type SuiteResult struct {
	Total     int               `json:"total"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Scenarios []ScenarioOutcome `json:"scenarios"`
}

// ScenarioOutcome is the result of one scenario file.
type ScenarioOutcome struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`

	// Result is nil when the scenario failed to load or run.
	Result *Result `json:"-"`
}

// GoldenMode selects how RunSuite treats golden files.
type GoldenMode int

const (
	// GoldenCompare compares against golden files that exist.
	GoldenCompare GoldenMode = iota
	// GoldenUpdate rewrites golden files.
	GoldenUpdate
	// GoldenIgnore skips golden files.
	GoldenIgnore
)

// FindScenarios expands args into scenario files. Directories are walked
// for .yaml and .yml files; filter, when set, is a glob matched against
// the file name without extension.
func FindScenarios(args []string, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	var files []string
	keep := func(path string) bool {
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return false
		}
		if filter == "" {
			return true
		}
		matched, _ := filepath.Match(filter, strings.TrimSuffix(filepath.Base(path), ext))
		return matched
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				// Golden snapshots live beside the scenarios
				if d.Name() == "golden" && path != arg {
					return filepath.SkipDir
				}
				return nil
			}
			if keep(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// RunSuite loads and runs every scenario file.
func RunSuite(paths []string, mode GoldenMode) *SuiteResult {
	result := &SuiteResult{Scenarios: make([]ScenarioOutcome, 0, len(paths))}

	for _, path := range paths {
		outcome := runFile(path, mode)
		result.Total++
		if outcome.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, outcome)
	}
	return result
}

func runFile(path string, mode GoldenMode) ScenarioOutcome {
	out := ScenarioOutcome{Name: filepath.Base(path), Path: path}

	scenario, err := LoadScenario(path)
	if err != nil {
		out.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return out
	}
	out.Name = scenario.Name

	result, err := Run(scenario)
	if err != nil {
		out.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return out
	}
	out.Result = result
	out.Errors = result.Errors
	out.Pass = result.Pass

	golden := GoldenPath(path)
	switch mode {
	case GoldenUpdate:
		if err := WriteGolden(golden, scenario.Name, result); err != nil {
			out.Pass = false
			out.Errors = append(out.Errors, err.Error())
		}
	case GoldenCompare:
		if _, err := os.Stat(golden); err != nil {
			break
		}
		match, err := CompareGolden(golden, scenario.Name, result)
		if err != nil {
			out.Pass = false
			out.Errors = append(out.Errors, fmt.Sprintf("golden comparison failed: %v", err))
		} else if !match {
			out.Pass = false
			out.Errors = append(out.Errors, "snapshot does not match golden file")
		}
	}
	return out
}
