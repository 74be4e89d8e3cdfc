package types

// Config is the layered runtime configuration (global -> project -> env).
type Config struct {
	Schema string `json:"$schema,omitempty"`

	Model      string `json:"model,omitempty"`
	SmallModel string `json:"small_model,omitempty"`

	Tools           map[string]bool            `json:"tools,omitempty"`
	PromptVariables map[string]string          `json:"promptVariables,omitempty"`
	Provider        map[string]ProviderConfig  `json:"provider,omitempty"`
	Agent           map[string]AgentConfig     `json:"agent,omitempty"`
	Permission      *PermissionConfig          `json:"permission,omitempty"`

	// Sandbox is the external sandbox execution service contract endpoint.
	Sandbox SandboxConfig `json:"sandbox,omitempty"`

	// Cloudflare holds defaults used when a session has no per-user
	// credentials from the secrets provider.
	Cloudflare CloudflareConfig `json:"cloudflare,omitempty"`

	Experimental *ExperimentalConfig `json:"experimental,omitempty"`
}

// SandboxConfig configures the Sandbox Client (C8) transport.
type SandboxConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	Timeout  int    `json:"timeoutMs,omitempty"`
}

// CloudflareConfig configures the external deployment client.
type CloudflareConfig struct {
	AccountID string `json:"accountId,omitempty"`
	APIToken  string `json:"apiToken,omitempty"`
}

// ProviderConfig holds configuration for an LLM inference provider.
type ProviderConfig struct {
	APIKey    string            `json:"apiKey,omitempty"`
	BaseURL   string            `json:"baseURL,omitempty"`
	Model     string            `json:"model,omitempty"`
	Whitelist []string          `json:"whitelist,omitempty"`
	Blacklist []string          `json:"blacklist,omitempty"`
	Disable   bool              `json:"disable,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}

// AgentConfig holds persona configuration for a controller-facing agent.
type AgentConfig struct {
	Model       string             `json:"model,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	Prompt      string             `json:"prompt,omitempty"`
	Tools       map[string]bool    `json:"tools,omitempty"`
	Permission  *PermissionConfig  `json:"permission,omitempty"`
	Description string             `json:"description,omitempty"`
	Disable     bool               `json:"disable,omitempty"`
}

// PermissionConfig holds tool-dispatch permission policy.
type PermissionConfig struct {
	Bash     string `json:"bash,omitempty"`     // "allow"|"deny"|"ask"
	DoomLoop string `json:"doom_loop,omitempty"` // "allow"|"deny"|"ask"
}

// ExperimentalConfig holds experimental feature flags.
type ExperimentalConfig struct {
	SmartAgentMode bool `json:"smartAgentMode,omitempty"`
}

// Validation constants from spec §6.
const (
	MaxImagesPerMessage = 5
	MaxImageSizeBytes   = 5 * 1024 * 1024
	MaxPhases           = 12
	MaxCommandsHistory  = 10
)

// ProjectNamePattern is the regex every projectName must match after
// initialize returns: ^[a-z0-9-_]{3,50}$.
const ProjectNamePattern = `^[a-z0-9\-_]{3,50}$`

// Model represents an LLM model available from a provider.
type Model struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	ProviderID        string  `json:"providerID"`
	ContextLength     int     `json:"contextLength"`
	MaxOutputTokens   int     `json:"maxOutputTokens,omitempty"`
	SupportsTools     bool    `json:"supportsTools"`
	SupportsVision    bool    `json:"supportsVision"`
	SupportsReasoning bool    `json:"supportsReasoning,omitempty"`
	InputPrice        float64 `json:"inputPrice,omitempty"`
	OutputPrice       float64 `json:"outputPrice,omitempty"`
}
