package config

// MemoryConfig configures the three-tier memory store: persistence dialect
// and DSN. EmbeddingModel is decoded but not read; the embedder's model
// comes from EmbeddingConfig.Model.
type MemoryConfig struct {
	Dialect        string `yaml:"dialect"` // "postgres", "sqlite3", or "sqlite"
	DSN            string `yaml:"dsn"`
	EmbeddingModel string `yaml:"embedding_model"`
	SearchLimit    int    `yaml:"search_limit"`
}
