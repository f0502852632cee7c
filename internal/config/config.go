package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// BackendConfig describes the dispatch channel to the backend runtime.
type BackendConfig struct {
	BaseURL           string   `json:"base_url"`
	Model             string   `json:"model"`
	Models            []string `json:"models"`
	APIKey            string   `json:"api_key"`
	TimeoutMS         int      `json:"timeout_ms"`
	MaxSteps          int      `json:"max_steps"`
	ContextTokenLimit int      `json:"context_token_limit"`
	SystemPrompt      string   `json:"system_prompt"`
}

// TeamsConfig describes the team push channel. An empty BaseURL disables
// team features.
type TeamsConfig struct {
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"api_key"`
	TimeoutMS int    `json:"timeout_ms"`
}

type StorageConfig struct {
	BaseDir string `json:"base_dir"`
}

type UIConfig struct {
	Theme    string `json:"theme"`
	Markdown bool   `json:"markdown"`
}

type Config struct {
	Backend BackendConfig `json:"backend"`
	Teams   TeamsConfig   `json:"teams"`
	Storage StorageConfig `json:"storage"`
	UI      UIConfig      `json:"ui"`
}

// fileConfig mirrors Config with pointer sections so absent keys keep
// their defaults when merging.
type fileConfig struct {
	Backend *BackendConfig `json:"backend"`
	Teams   *TeamsConfig   `json:"teams"`
	Storage *StorageConfig `json:"storage"`
	UI      *fileUIConfig  `json:"ui"`
}

type fileUIConfig struct {
	Theme    *string `json:"theme"`
	Markdown *bool   `json:"markdown"`
}

func Default() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			Models:            []string{"gpt-4o-mini"},
			TimeoutMS:         120000,
			MaxSteps:          32,
			ContextTokenLimit: 128000,
		},
		Teams: TeamsConfig{
			TimeoutMS: 10000,
		},
		Storage: StorageConfig{
			BaseDir: "~/.cockpit",
		},
		UI: UIConfig{
			Theme:    "dark",
			Markdown: true,
		},
	}
}

// Load resolves the effective configuration: defaults, then the global
// file, then the project file (or an explicit path), then environment
// overrides. Missing files are not errors.
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("COCKPIT_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".cockpit", "config.json")}
}

func findProjectConfigPath() string {
	candidates := []string{
		"cockpit.config.json",
		".cockpit/config.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	cleaned := stripJSONComments(data)
	var fc fileConfig
	if err := json.Unmarshal(cleaned, &fc); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fc)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Backend != nil {
		cfg.Backend = mergeBackend(cfg.Backend, *fc.Backend)
	}
	if fc.Teams != nil {
		cfg.Teams = mergeTeams(cfg.Teams, *fc.Teams)
	}
	if fc.Storage != nil {
		if strings.TrimSpace(fc.Storage.BaseDir) != "" {
			cfg.Storage.BaseDir = fc.Storage.BaseDir
		}
	}
	if fc.UI != nil {
		if fc.UI.Theme != nil && strings.TrimSpace(*fc.UI.Theme) != "" {
			cfg.UI.Theme = *fc.UI.Theme
		}
		if fc.UI.Markdown != nil {
			cfg.UI.Markdown = *fc.UI.Markdown
		}
	}
}

func mergeBackend(base BackendConfig, override BackendConfig) BackendConfig {
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.Model) != "" {
		base.Model = override.Model
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if len(override.Models) > 0 {
		base.Models = append([]string(nil), override.Models...)
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	if override.MaxSteps > 0 {
		base.MaxSteps = override.MaxSteps
	}
	if override.ContextTokenLimit > 0 {
		base.ContextTokenLimit = override.ContextTokenLimit
	}
	if strings.TrimSpace(override.SystemPrompt) != "" {
		base.SystemPrompt = override.SystemPrompt
	}
	return base
}

func mergeTeams(base TeamsConfig, override TeamsConfig) TeamsConfig {
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	return base
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("COCKPIT_BASE_URL")); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("COCKPIT_MODEL")); v != "" {
		cfg.Backend.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("COCKPIT_API_KEY")); v != "" {
		cfg.Backend.APIKey = v
	} else if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" && cfg.Backend.APIKey == "" {
		cfg.Backend.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("COCKPIT_MAX_STEPS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid COCKPIT_MAX_STEPS: %q", v)
		}
		cfg.Backend.MaxSteps = n
	}
	if v := strings.TrimSpace(os.Getenv("COCKPIT_TEAMS_URL")); v != "" {
		cfg.Teams.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("COCKPIT_STORAGE_PATH")); v != "" {
		cfg.Storage.BaseDir = v
	}
	return nil
}

func normalize(cfg *Config) error {
	def := Default()
	if strings.TrimSpace(cfg.Backend.BaseURL) == "" {
		cfg.Backend.BaseURL = def.Backend.BaseURL
	}
	if strings.TrimSpace(cfg.Backend.Model) == "" {
		cfg.Backend.Model = def.Backend.Model
	}
	if cfg.Backend.TimeoutMS <= 0 {
		cfg.Backend.TimeoutMS = def.Backend.TimeoutMS
	}
	if cfg.Backend.MaxSteps <= 0 {
		cfg.Backend.MaxSteps = def.Backend.MaxSteps
	}
	if cfg.Backend.ContextTokenLimit <= 0 {
		cfg.Backend.ContextTokenLimit = def.Backend.ContextTokenLimit
	}
	cfg.Backend.Models = normalizeModelList(cfg.Backend.Models)
	if !containsString(cfg.Backend.Models, cfg.Backend.Model) {
		cfg.Backend.Models = append(cfg.Backend.Models, cfg.Backend.Model)
	}

	storageDir, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	if storageDir == "" {
		storageDir, err = expandPath(def.Storage.BaseDir)
		if err != nil {
			return err
		}
	}
	cfg.Storage.BaseDir = storageDir

	cfg.Teams.BaseURL = strings.TrimSpace(cfg.Teams.BaseURL)
	if cfg.Teams.TimeoutMS <= 0 {
		cfg.Teams.TimeoutMS = def.Teams.TimeoutMS
	}
	return nil
}

// DatabasePath is the SQLite file under the storage directory.
func (c Config) DatabasePath() string {
	return filepath.Join(c.Storage.BaseDir, "cockpit.db")
}

func normalizeModelList(models []string) []string {
	out := make([]string, 0, len(models))
	seen := map[string]struct{}{}
	for _, m := range models {
		trimmed := strings.TrimSpace(m)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func containsString(items []string, needle string) bool {
	for _, item := range items {
		if item == needle {
			return true
		}
	}
	return false
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

// stripJSONComments removes // and /* */ comments so config files can be
// annotated. String contents are left untouched.
func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)

		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}

		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}

		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}
	return out.Bytes()
}
