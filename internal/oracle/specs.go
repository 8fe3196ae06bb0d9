package oracle

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SpecDefinitions models the structure of configs/oracle.yaml.
type SpecDefinitions struct {
	Specs map[string]Spec `yaml:"specs"`
}

// Spec declaratively describes one HTTP endpoint: where to call, how, and
// which part of the JSON body carries the structured result.
type Spec struct {
	URL         string            `yaml:"url"`
	Method      string            `yaml:"method"`
	Headers     map[string]string `yaml:"headers"`
	Parameters  map[string]string `yaml:"parameters"`
	ResponseKey string            `yaml:"response_key"`
	Description string            `yaml:"description"`
}

// LoadSpecDefinitions parses the YAML file containing API spec definitions.
func LoadSpecDefinitions(path string) (SpecDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return SpecDefinitions{Specs: map[string]Spec{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return SpecDefinitions{}, fmt.Errorf("读取接口规格文件失败: %w", err)
	}

	var defs SpecDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return SpecDefinitions{}, fmt.Errorf("解析接口规格文件失败: %w", err)
	}
	if defs.Specs == nil {
		defs.Specs = map[string]Spec{}
	}
	return defs, nil
}

// Get returns a named spec or an error when it is absent.
func (d SpecDefinitions) Get(name string) (Spec, error) {
	spec, ok := d.Specs[name]
	if !ok {
		return Spec{}, fmt.Errorf("未定义的接口规格: %s", name)
	}
	return spec, nil
}
