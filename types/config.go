package types

// AppConfig represents the complete application configuration.
type AppConfig struct {
	Verbose   bool            `mapstructure:"verbose"`
	Config    string          `mapstructure:"config"`
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Data      DataConfig      `mapstructure:"data" validate:"required"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Backends  []BackendSeed   `mapstructure:"backends" validate:"dive"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP transport settings.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port" validate:"required,min=1,max=65535"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// DataConfig holds storage configuration.
type DataConfig struct {
	// Path is the SQLite database path, or ":memory:" for an ephemeral store.
	Path string `mapstructure:"path" validate:"required"`
}

// ExecutionConfig tunes the streaming orchestration core.
type ExecutionConfig struct {
	// RequestTimeoutSeconds bounds one backend streaming call. Long streaming
	// generations need minutes, not seconds.
	RequestTimeoutSeconds int `mapstructure:"requestTimeoutSeconds" validate:"omitempty,min=5,max=3600"`
	// HeartbeatSeconds is the interval between keep-alive events on idle streams.
	HeartbeatSeconds int `mapstructure:"heartbeatSeconds" validate:"omitempty,min=1,max=300"`
	// BufferSize is the per-execution event retention window.
	BufferSize int `mapstructure:"bufferSize" validate:"omitempty,min=16,max=65536"`
	// HealthCacheSeconds is how long backend health results stay cached.
	HealthCacheSeconds int `mapstructure:"healthCacheSeconds" validate:"omitempty,min=1,max=3600"`
	// GracePeriodSeconds keeps a finished stream's buffer around for
	// reconnecting subscribers.
	GracePeriodSeconds int `mapstructure:"gracePeriodSeconds" validate:"omitempty,min=0,max=3600"`
}

// BackendSeed is a backend declared in the config file. API keys are resolved
// from config first, then provider-specific environment variables.
type BackendSeed struct {
	Name     string `mapstructure:"name" validate:"required"`
	Provider string `mapstructure:"provider" validate:"required,oneof=openai anthropic gemini ollama"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"apiKey"`
	BaseURL  string `mapstructure:"baseURL"`
	Default  bool   `mapstructure:"default"`
}

// TelemetryConfig controls opt-in anonymous usage reporting.
type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"apiKey"`
}
