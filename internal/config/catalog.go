package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// catalogFile is the on-disk shape of a tool catalog. Either a bare list of
// tools or an object with a "tools" key is accepted.
type catalogFile struct {
	Tools []catalogTool `yaml:"tools" json:"tools"`
}

type catalogTool struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Parameters  map[string]any `yaml:"parameters" json:"parameters"`
}

// LoadToolCatalog reads tool definitions from a YAML or JSON(C) file.
func LoadToolCatalog(path string) ([]types.ToolSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tool catalog: %w", err)
	}

	var tools []catalogTool
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		tools, err = decodeCatalog(data, yaml.Unmarshal)
	default:
		tools, err = decodeCatalog(jsonc.ToJSON(data), json.Unmarshal)
	}
	if err != nil {
		return nil, fmt.Errorf("tool catalog %s: %w", path, err)
	}

	specs := make([]types.ToolSpec, 0, len(tools))
	for i, t := range tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool catalog %s: tool %d has no name", path, i)
		}
		spec := types.ToolSpec{Name: t.Name, Description: t.Description}
		if t.Parameters != nil {
			params, err := json.Marshal(t.Parameters)
			if err != nil {
				return nil, fmt.Errorf("tool catalog %s: %s parameters: %w", path, t.Name, err)
			}
			spec.Parameters = params
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func decodeCatalog(data []byte, unmarshal func([]byte, any) error) ([]catalogTool, error) {
	var file catalogFile
	if err := unmarshal(data, &file); err == nil {
		return file.Tools, nil
	}
	var list []catalogTool
	if err := unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}
