package main

import (
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLMProvider    string `yaml:"llm_provider"`
	LLMModel       string `yaml:"llm_model"`
	LLMBatchSize   int    `yaml:"llm_batch_size"`
	LLMConcurrency int    `yaml:"llm_concurrency"`
	LLMTimeoutSecs int    `yaml:"llm_timeout_seconds"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`

	HeuristicPrefilter bool   `yaml:"heuristic_prefilter"`
	KeywordRulesPath   string `yaml:"keyword_rules_path"`

	CheckpointDir           string `yaml:"checkpoint_dir"`
	CheckpointRetentionDays int    `yaml:"checkpoint_retention_days"`

	DBPath          string `yaml:"db_path"`
	ReportOutputDir string `yaml:"report_output_dir"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	WatchDir      string `yaml:"watch_dir"`
	WatchSchedule string `yaml:"watch_schedule"`

	OfficialGuestID string   `yaml:"official_guest_id"`
	StaffUsernames  []string `yaml:"staff_usernames"`

	ExampleCount  int `yaml:"example_count"`
	ExampleMaxLen int `yaml:"example_max_chars"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverrideInt(&cfg.LLMBatchSize, "LLM_BATCH_SIZE")
	envOverrideInt(&cfg.LLMConcurrency, "LLM_CONCURRENCY")
	envOverrideInt(&cfg.LLMTimeoutSecs, "LLM_TIMEOUT_SECONDS")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverrideBool(&cfg.HeuristicPrefilter, "HEURISTIC_PREFILTER")
	envOverride(&cfg.KeywordRulesPath, "KEYWORD_RULES_PATH")
	envOverride(&cfg.CheckpointDir, "CHECKPOINT_DIR")
	envOverrideInt(&cfg.CheckpointRetentionDays, "CHECKPOINT_RETENTION_DAYS")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&cfg.WatchDir, "WATCH_DIR")
	envOverride(&cfg.WatchSchedule, "WATCH_SCHEDULE")
	envOverride(&cfg.OfficialGuestID, "OFFICIAL_GUEST_ID")
	envOverrideInt(&cfg.ExampleCount, "EXAMPLE_COUNT")
	envOverrideInt(&cfg.ExampleMaxLen, "EXAMPLE_MAX_CHARS")

	if names := os.Getenv("STAFF_USERNAMES"); names != "" {
		cfg.StaffUsernames = nil
		for _, name := range strings.Split(names, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				cfg.StaffUsernames = append(cfg.StaffUsernames, name)
			}
		}
	}

	// Defaults
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "openai"
	}
	if cfg.LLMBatchSize == 0 {
		cfg.LLMBatchSize = 10
	}
	if cfg.LLMConcurrency == 0 {
		cfg.LLMConcurrency = 1
	}
	if cfg.LLMTimeoutSecs == 0 {
		cfg.LLMTimeoutSecs = 90
	}
	if cfg.CheckpointDir == "" {
		cfg.CheckpointDir = os.TempDir()
	}
	if cfg.CheckpointRetentionDays == 0 {
		cfg.CheckpointRetentionDays = 7
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./chatlens.db"
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = "./reports"
	}
	if cfg.ExampleCount == 0 {
		cfg.ExampleCount = 10
	}
	if cfg.ExampleMaxLen == 0 {
		cfg.ExampleMaxLen = 120
	}

	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatalf("openai_api_key is required when llm_provider=openai")
		}
	default:
		log.Fatalf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	if cfg.LLMBatchSize < 1 {
		log.Fatalf("invalid llm_batch_size '%d': must be >= 1", cfg.LLMBatchSize)
	}
	if cfg.LLMConcurrency < 1 {
		log.Fatalf("invalid llm_concurrency '%d': must be >= 1", cfg.LLMConcurrency)
	}
	if cfg.LLMTimeoutSecs < 1 {
		log.Fatalf("invalid llm_timeout_seconds '%d': must be >= 1", cfg.LLMTimeoutSecs)
	}
	if cfg.CheckpointRetentionDays < 1 {
		log.Fatalf("invalid checkpoint_retention_days '%d': must be >= 1", cfg.CheckpointRetentionDays)
	}
	if cfg.ExampleCount < 0 {
		log.Fatalf("invalid example_count '%d': must be >= 0", cfg.ExampleCount)
	}
	if cfg.ExampleMaxLen < 20 {
		log.Fatalf("invalid example_max_chars '%d': must be >= 20", cfg.ExampleMaxLen)
	}
	if cfg.KeywordRulesPath != "" {
		if _, err := LoadKeywordRules(cfg.KeywordRulesPath); err != nil {
			log.Fatalf("invalid keyword_rules_path '%s': %v", cfg.KeywordRulesPath, err)
		}
	}

	return cfg
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

func (c Config) IsStaffUsername(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, staff := range c.StaffUsernames {
		if strings.ToLower(strings.TrimSpace(staff)) == name {
			return true
		}
	}
	return false
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
