package config

// GeminiOpenAIBase is Gemini's OpenAI-compatible endpoint.
const GeminiOpenAIBase = "https://generativelanguage.googleapis.com/v1beta/openai"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:   "~/.lurkbot",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "~/.lurkbot/lurkbot.db",
		},
		Providers: map[string]ProviderConfig{
			"gemini": {
				Enabled:      true,
				APIBase:      GeminiOpenAIBase,
				DefaultModel: "gemini-3-flash-preview",
			},
		},
		AI: AIConfig{
			DefaultProvider: "gemini",
			Temperature:     1,
			Workers:         2,
			TimeoutSeconds:  60,
		},
		Reply: ReplyConfig{
			Chance:          0.25,
			ContextMessages: 10,
			ExcludeBots:     true,
			IncludeMedia:    true,
		},
		Dispatch: DispatchConfig{
			WebhookName:       "Unnamed",
			RetryBackoffMs:    500,
			FallbackToChannel: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
	}
}
