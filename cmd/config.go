package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/council/internal/review"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "council"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage council configuration.

Running bare 'council config' is the same as 'council config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# council configuration
# See: council config show (for effective values and sources)

# State/data directory (default: ~/.config/council)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/council/council.db)
# db_path: {{ .DBPath }}

# Inference provider: "ollama" (local, residency managed) or "anthropic"
inference:
  provider: "{{ .Provider }}"

ollama:
  url: "{{ .OllamaURL }}"
  # Per-request timeout for generate calls
  timeout: "{{ .OllamaTimeout }}"

anthropic:
  # api_key: sk-ant-...   (or set COUNCIL_ANTHROPIC_API_KEY)
  model: "{{ .AnthropicModel }}"

# Writing sampling settings; reviews run {{ .TemperatureOffset }} cooler
generation:
  temperature: {{ .Temperature }}
  num_predict: {{ .NumPredict }}

review:
  # "sequential" (one model resident at a time) or "parallel"
  mode: "{{ .ReviewMode }}"
  # Concurrent reviewers in parallel mode
  parallelism: {{ .Parallelism }}
  # Wait after asking the server to unload a model
  settle_delay: "{{ .SettleDelay }}"

# API server port (default: 8080)
port: {{ .Port }}
`

type configTemplateData struct {
	StateDir          string
	DBPath            string
	Provider          string
	OllamaURL         string
	OllamaTimeout     string
	AnthropicModel    string
	Temperature       float64
	TemperatureOffset float64
	NumPredict        int
	ReviewMode        string
	Parallelism       int
	SettleDelay       string
	Port              int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:          viper.GetString("state_dir"),
		DBPath:            viper.GetString("db_path"),
		Provider:          viper.GetString("inference.provider"),
		OllamaURL:         viper.GetString("ollama.url"),
		OllamaTimeout:     viper.GetString("ollama.timeout"),
		AnthropicModel:    viper.GetString("anthropic.model"),
		Temperature:       viper.GetFloat64("generation.temperature"),
		TemperatureOffset: review.TemperatureOffset,
		NumPredict:        viper.GetInt("generation.num_predict"),
		ReviewMode:        viper.GetString("review.mode"),
		Parallelism:       viper.GetInt("review.parallelism"),
		SettleDelay:       viper.GetString("review.settle_delay"),
		Port:              viper.GetInt("port"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "COUNCIL_STATE_DIR"},
	{Key: "db_path", EnvVar: "COUNCIL_DB_PATH"},
	{Key: "inference.provider", EnvVar: "COUNCIL_INFERENCE_PROVIDER"},
	{Key: "ollama.url", EnvVar: "COUNCIL_OLLAMA_URL"},
	{Key: "ollama.timeout", EnvVar: "COUNCIL_OLLAMA_TIMEOUT"},
	{Key: "ollama.list_timeout", EnvVar: "COUNCIL_OLLAMA_LIST_TIMEOUT"},
	{Key: "anthropic.api_key", EnvVar: "COUNCIL_ANTHROPIC_API_KEY"},
	{Key: "anthropic.model", EnvVar: "COUNCIL_ANTHROPIC_MODEL"},
	{Key: "generation.temperature", EnvVar: "COUNCIL_GENERATION_TEMPERATURE"},
	{Key: "generation.top_p", EnvVar: "COUNCIL_GENERATION_TOP_P"},
	{Key: "generation.top_k", EnvVar: "COUNCIL_GENERATION_TOP_K"},
	{Key: "generation.num_predict", EnvVar: "COUNCIL_GENERATION_NUM_PREDICT"},
	{Key: "review.mode", EnvVar: "COUNCIL_REVIEW_MODE"},
	{Key: "review.parallelism", EnvVar: "COUNCIL_REVIEW_PARALLELISM"},
	{Key: "review.settle_delay", EnvVar: "COUNCIL_REVIEW_SETTLE_DELAY"},
	{Key: "review.synthesis_max_chars", EnvVar: "COUNCIL_REVIEW_SYNTHESIS_MAX_CHARS"},
	{Key: "residency.lock_file", EnvVar: "COUNCIL_RESIDENCY_LOCK_FILE"},
	{Key: "port", EnvVar: "COUNCIL_PORT"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Key == "anthropic.api_key" && viper.GetString(k.Key) != "" {
			val = "********"
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-28s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'council config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
