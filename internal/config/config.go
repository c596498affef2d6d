package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/Sinio-Manoka/AIPex-sub000/pkg/types"
)

// Environment variables read by Load.
const (
	EnvConfig        = "AIPEX_CONFIG"
	EnvConfigContent = "AIPEX_CONFIG_CONTENT"
	EnvAPIKey        = "AIPEX_API_KEY"
	EnvModel         = "AIPEX_MODEL"
	EnvEndpoint      = "AIPEX_ENDPOINT"
	EnvLogLevel      = "AIPEX_LOG_LEVEL"
	EnvOpenAIKey     = "OPENAI_API_KEY"
)

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Loaded is the result of Load: the merged configuration and every file it
// was read from, including the tool catalog.
type Loaded struct {
	Config *types.Config
	Files  []string
}

// Load loads configuration from multiple sources (priority order):
// 1. Global config ($XDG_CONFIG_HOME/aipex/)
// 2. Project config (<dir>/aipex.json[c], <dir>/.aipex/aipex.json[c])
// 3. AIPEX_CONFIG file
// 4. AIPEX_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*types.Config, error) {
	loaded, err := LoadWithSources(directory)
	if err != nil {
		return nil, err
	}
	return loaded.Config, nil
}

// LoadWithSources is Load that also reports the files it read.
func LoadWithSources(directory string) (*Loaded, error) {
	config := &types.Config{}
	result := &Loaded{Config: config}

	// Track loaded files to avoid duplicates
	seen := make(map[string]bool)
	var loadErr error

	loadOnce := func(path string) {
		absPath, err := filepath.Abs(path)
		if err != nil || seen[absPath] {
			return
		}
		seen[absPath] = true
		err = loadConfigFile(absPath, config)
		switch {
		case err == nil:
			result.Files = append(result.Files, absPath)
		case os.IsNotExist(err):
		default:
			if loadErr == nil {
				loadErr = fmt.Errorf("config %s: %w", absPath, err)
			}
		}
	}

	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "aipex.json"))
	loadOnce(filepath.Join(globalPath, "aipex.jsonc"))

	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".aipex")
		loadOnce(filepath.Join(directory, "aipex.json"))
		loadOnce(filepath.Join(directory, "aipex.jsonc"))
		loadOnce(filepath.Join(projectConfigDir, "aipex.json"))
		loadOnce(filepath.Join(projectConfigDir, "aipex.jsonc"))
	}

	if configPath := os.Getenv(EnvConfig); configPath != "" {
		loadOnce(configPath)
	}
	if loadErr != nil {
		return nil, loadErr
	}

	if content := os.Getenv(EnvConfigContent); content != "" {
		var inline types.Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(content)), &inline); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvConfigContent, err)
		}
		mergeConfig(config, &inline)
	}

	applyEnvOverrides(config)

	if config.ToolCatalog != "" {
		path := config.ToolCatalog
		if !filepath.IsAbs(path) && directory != "" {
			path = filepath.Join(directory, path)
		}
		specs, err := LoadToolCatalog(path)
		if err != nil {
			return nil, err
		}
		config.Tools = mergeTools(config.Tools, specs)
		if abs, err := filepath.Abs(path); err == nil {
			result.Files = append(result.Files, abs)
		}
	}

	return result, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, filepath.Dir(path))

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	// Catalog paths are relative to the file that names them.
	if fileConfig.ToolCatalog != "" && !filepath.IsAbs(fileConfig.ToolCatalog) {
		fileConfig.ToolCatalog = filepath.Join(filepath.Dir(path), fileConfig.ToolCatalog)
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := expandPath(filePattern.FindStringSubmatch(match)[1], baseDir)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}
		// Escape for a JSON string
		quoted, _ := json.Marshal(strings.TrimRight(string(content), "\n"))
		return string(quoted[1 : len(quoted)-1])
	})

	return []byte(str)
}

func expandPath(path, baseDir string) string {
	switch {
	case strings.HasPrefix(path, "~/"):
		return filepath.Join(os.Getenv("HOME"), path[2:])
	case filepath.IsAbs(path):
		return path
	default:
		return filepath.Join(baseDir, path)
	}
}

// mergeConfig merges source config into target. Scalars overwrite, maps
// merge by key, tool lists merge by name.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.Endpoint != "" {
		target.Endpoint = source.Endpoint
	}
	if source.APIKey != "" {
		target.APIKey = source.APIKey
	}
	if source.SystemPrompt != "" {
		target.SystemPrompt = source.SystemPrompt
	}
	if source.ToolCatalog != "" {
		target.ToolCatalog = source.ToolCatalog
	}
	if source.MaxIterations > 0 {
		target.MaxIterations = source.MaxIterations
	}
	if source.ToolTimeoutMs > 0 {
		target.ToolTimeoutMs = source.ToolTimeoutMs
	}
	if source.AttachScreenshots != nil {
		target.AttachScreenshots = source.AttachScreenshots
	}
	if source.StorageDir != "" {
		target.StorageDir = source.StorageDir
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}

	target.Tools = mergeTools(target.Tools, source.Tools)
	target.DisabledTools = append(target.DisabledTools, source.DisabledTools...)

	if source.Emit.IntervalMs != nil {
		target.Emit.IntervalMs = source.Emit.IntervalMs
	}
	if source.Emit.CharsPerTick > 0 {
		target.Emit.CharsPerTick = source.Emit.CharsPerTick
	}
	if source.Retry.MaxRetries != nil {
		target.Retry.MaxRetries = source.Retry.MaxRetries
	}
	if source.Retry.InitialIntervalMs > 0 {
		target.Retry.InitialIntervalMs = source.Retry.InitialIntervalMs
	}

	if source.Server.Addr != "" {
		target.Server.Addr = source.Server.Addr
	}
	if len(source.Server.CORSOrigins) > 0 {
		target.Server.CORSOrigins = source.Server.CORSOrigins
	}

	if source.MCP != nil {
		if target.MCP == nil {
			target.MCP = make(map[string]types.MCPConfig)
		}
		for k, v := range source.MCP {
			target.MCP[k] = v
		}
	}
}

// mergeTools appends extra to base, replacing entries with the same name.
func mergeTools(base, extra []types.ToolSpec) []types.ToolSpec {
	if len(extra) == 0 {
		return base
	}
	index := make(map[string]int, len(base))
	out := append([]types.ToolSpec(nil), base...)
	for i, spec := range out {
		index[spec.Name] = i
	}
	for _, spec := range extra {
		if i, ok := index[spec.Name]; ok {
			out[i] = spec
			continue
		}
		index[spec.Name] = len(out)
		out = append(out, spec)
	}
	return out
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	if key := os.Getenv(EnvAPIKey); key != "" {
		config.APIKey = key
	} else if key := os.Getenv(EnvOpenAIKey); key != "" && config.APIKey == "" {
		config.APIKey = key
	}
	if model := os.Getenv(EnvModel); model != "" {
		config.Model = model
	}
	if endpoint := os.Getenv(EnvEndpoint); endpoint != "" {
		config.Endpoint = endpoint
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		config.LogLevel = level
	}
}

// Save saves the configuration to a file. The API key is never written.
func Save(config *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	out := *config
	out.APIKey = ""
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
