package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:        "info",
			DefaultProvider: "openai",
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:         true,
				APIBase:         "https://api.openai.com/v1",
				APIKey:          "${OPENAI_API_KEY}",
				DefaultModel:    "gpt-4o-mini",
				RateLimitPerMin: 120,
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
			"claude": {
				Enabled:         false,
				APIKey:          "${ANTHROPIC_API_KEY}",
				DefaultModel:    "claude-3-5-haiku-latest",
				RateLimitPerMin: 50,
			},
		},
		Completion: CompletionConfig{
			TimeoutSeconds:      20,
			MaxTokens:           500,
			ClassifyTemperature: 0.3,
			IdeasTemperature:    0.7,
			AskTemperature:      0.7,
		},
		Embedding: EmbeddingConfig{
			Kind:           "hashing",
			Dimension:      384,
			TimeoutSeconds: 10,
		},
		VectorStore: VectorStoreConfig{
			Kind:           "memory",
			URL:            "${QDRANT_URL:-http://localhost:6333}",
			Collection:     "products",
			VectorName:     "text",
			TimeoutSeconds: 10,
		},
		Retrieval: RetrievalConfig{
			MaxQueries: 3,
			PerQuery:   4,
			MaxResults: 8,
		},
		Catalog: CatalogConfig{
			Categories: defaultCategories(),
		},
		Dedup: DedupConfig{
			TTLSeconds: 3600,
		},
		Kapso: KapsoConfig{
			Enabled:        false,
			BaseURL:        "${KAPSO_BASE_URL:-https://app.kapso.ai/api/v1}",
			APIKey:         "${KAPSO_API_KEY}",
			WebhookPath:    "/webhook/kapso",
			TimeoutSeconds: 15,
			MarkAsRead:     true,
			Reply:          true,
			HistoryLimit:   10,
		},
		Notify: NotifyConfig{
			Enabled:        true,
			MinConfidence:  0.6,
			Sinks:          []string{"log"},
			TimeoutSeconds: 10,
		},
		Storage: StorageConfig{
			Enabled:       true,
			Driver:        "sqlite",
			DBPath:        "~/.shopbot/shopbot.db",
			HistoryLimit:  10,
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Agent: AgentConfig{
			MaxConcurrentTurns: 5,
			ReadMarkWorkers:    3,
			TurnTimeoutSeconds: 60,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "shopbot",
		},
	}
}

func defaultCategories() []string {
	return []string{
		"Clothing",
		"Footwear",
		"Accessories",
		"Electronics",
		"Home",
	}
}
