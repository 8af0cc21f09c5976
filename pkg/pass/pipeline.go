package pass

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Level pipelines are data: an ordered pass name list per -O level.
// An explicit -t list or a YAML pipeline file replaces them wholesale.
var levels = [4][]string{
	0: {},
	1: {
		"mem2reg",
		"constfold",
		"scp",
		"simplifycfg",
		"dce",
		"blockorder",
	},
	2: {
		"mem2reg",
		"sroa",
		"mem2reg",
		"constfold",
		"sccp",
		"simplifycfg",
		"inline",
		"deadargelim",
		"mem2reg",
		"gvn",
		"reassociate",
		"gvn",
		"dse",
		"dle",
		"loopsimplify",
		"licm",
		"loopunroll",
		"loopdivest",
		"sccp",
		"gvn",
		"adce",
		"simplifycfg",
		"tco",
		"dce",
		"blockorder",
	},
	3: {
		"mem2reg",
		"sroa",
		"mem2reg",
		"constfold",
		"sccp",
		"simplifycfg",
		"inline",
		"deadargelim",
		"mem2reg",
		"gvn",
		"reassociate",
		"gvn",
		"dse",
		"dle",
		"loopsimplify",
		"licm",
		"loopinterchange",
		"loopsplit",
		"loopparallel",
		"loopunroll",
		"loopdivest",
		"sccp",
		"gvn",
		"adce",
		"simplifycfg",
		"tco",
		"dce",
		"blockorder",
	},
}

// LevelPipeline returns the default pass list for -O0..-O3
func LevelPipeline(level int) ([]string, error) {
	if level < 0 || level >= len(levels) {
		return nil, fmt.Errorf("no such optimization level %d", level)
	}
	out := make([]string, len(levels[level]))
	copy(out, levels[level])
	return out, nil
}

type pipelineFile struct {
	Passes []string `yaml:"passes"`
}

// LoadPipeline reads an ordered pass list from a YAML file of the form
//
//	passes:
//	  - mem2reg
//	  - gvn
func LoadPipeline(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf pipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", path, err)
	}
	if len(pf.Passes) == 0 {
		return nil, fmt.Errorf("pipeline %s: no passes listed", path)
	}
	return pf.Passes, nil
}
