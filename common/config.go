package common

import "github.com/spf13/viper"

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to NATS server
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required"`
}

// ===============================================================================
// Gateway Related Config

// GatewayEndpointConfig defines gateway API endpoint config
type GatewayEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the gateway APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
	// WebSocketPath is the path clients upgrade to a persistent connection on
	WebSocketPath string `mapstructure:"websocket_path" json:"websocket_path" validate:"required,startswith=/"`
}

// WebSocketConfig defines the persistent connection parameters
type WebSocketConfig struct {
	// RequireAuth whether the handshake must carry a valid bearer token.
	//
	// When false, every handshake is accepted.
	RequireAuth bool `mapstructure:"require_auth" json:"require_auth"`
	// AllowedOrigins is the list of accepted Origin headers. Empty means same-origin only,
	// and "*" accepts any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins"`
	// ReadBufferSize is the websocket read buffer size in bytes
	ReadBufferSize int `mapstructure:"read_buffer_size" json:"read_buffer_size" validate:"gte=0"`
	// WriteBufferSize is the websocket write buffer size in bytes
	WriteBufferSize int `mapstructure:"write_buffer_size" json:"write_buffer_size" validate:"gte=0"`
	// SendQueueDepth is the max number of frames queued per connection before
	// delivery to it is considered failed
	SendQueueDepth int `mapstructure:"send_queue_depth" json:"send_queue_depth" validate:"gte=1"`
	// WriteTimeout is the max duration of a single frame write in seconds
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=1"`
	// MaxMessageBytes is the largest inbound frame accepted
	MaxMessageBytes int64 `mapstructure:"max_message_bytes" json:"max_message_bytes" validate:"gte=128"`
	// MaxConnections caps the number of live connections (0 is unlimited)
	MaxConnections int `mapstructure:"max_connections" json:"max_connections" validate:"gte=0"`
}

// LivenessConfig defines the connection liveness probing parameters
type LivenessConfig struct {
	// IdleTimeout is how long a connection may be silent before it is probed, in seconds
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=1"`
	// ProbeTimeout is how long to wait for any response to a probe, in seconds
	ProbeTimeout int `mapstructure:"probe_timeout_sec" json:"probe_timeout_sec" validate:"gte=1"`
}

// RateLimitCategoryConfig defines one admission control category
type RateLimitCategoryConfig struct {
	// Name is the category name
	Name string `mapstructure:"name" json:"name" validate:"required"`
	// PathPrefix is the request path prefix mapped to this category
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required,startswith=/"`
	// Capacity is the number of requests admitted per window
	Capacity int `mapstructure:"capacity" json:"capacity" validate:"gte=1"`
	// Window is the window duration in seconds
	Window int `mapstructure:"window_sec" json:"window_sec" validate:"gte=1"`
}

// RateLimitConfig defines the admission control parameters
type RateLimitConfig struct {
	// Enabled whether admission control is applied
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// TrustForwardedFor whether the client key is read from X-Forwarded-For
	TrustForwardedFor bool `mapstructure:"trust_forwarded_for" json:"trust_forwarded_for"`
	// Fallback is the category applied when no other category matches
	Fallback RateLimitCategoryConfig `mapstructure:"fallback" json:"fallback" validate:"required"`
	// Categories are the path specific categories
	Categories []RateLimitCategoryConfig `mapstructure:"categories" json:"categories" validate:"omitempty,dive"`
	// SweepInterval is how often expired buckets are dropped, in seconds
	SweepInterval int `mapstructure:"sweep_interval_sec" json:"sweep_interval_sec" validate:"gte=1"`
}

// AuthConfig defines the bearer token verification parameters
type AuthConfig struct {
	// Algorithm is the token signing algorithm
	Algorithm string `mapstructure:"algorithm" json:"algorithm" validate:"required,oneof=HS256 RS256"`
	// SecretKey is the HS256 shared secret
	SecretKey string `mapstructure:"secret_key" json:"-"`
	// PublicKeyFile is the PEM encoded RS256 public key file
	PublicKeyFile string `mapstructure:"public_key_file" json:"public_key_file" validate:"omitempty,file"`
	// Issuer if set, tokens must carry this issuer
	Issuer string `mapstructure:"issuer" json:"issuer"`
	// Audience if set, tokens must carry this audience
	Audience string `mapstructure:"audience" json:"audience"`
	// Leeway is the clock skew tolerated when checking token times, in seconds
	Leeway int `mapstructure:"leeway_sec" json:"leeway_sec" validate:"gte=0"`
}

// BackendConfig defines how backend services are reached
type BackendConfig struct {
	// Mode selects the backend implementation
	Mode string `mapstructure:"mode" json:"mode" validate:"required,oneof=nats memory"`
	// SubjectPrefix is the NATS subject prefix operations are requested on
	SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix" validate:"required"`
	// RequestTimeout is the max duration of one backend call in seconds
	RequestTimeout int `mapstructure:"request_timeout_sec" json:"request_timeout_sec" validate:"gte=1"`
}

// GatewayServerConfig defines configuration for the gateway server
type GatewayServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters for the gateway server
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required"`
	// Endpoints is the API endpoint config parameters for the gateway server
	Endpoints GatewayEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required"`
	// WebSocket is the persistent connection config
	WebSocket WebSocketConfig `mapstructure:"websocket" json:"websocket" validate:"required"`
	// Liveness is the connection liveness config
	Liveness LivenessConfig `mapstructure:"liveness" json:"liveness" validate:"required"`
	// RateLimit is the admission control config
	RateLimit RateLimitConfig `mapstructure:"rate_limit" json:"rate_limit" validate:"required"`
	// Auth is the bearer token config
	Auth AuthConfig `mapstructure:"auth" json:"auth" validate:"required"`
	// Backend is the backend service config
	Backend BackendConfig `mapstructure:"backend" json:"backend" validate:"required"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config
type SystemConfig struct {
	// NATS are the NATS related config parameters
	NATS NATSConfig `mapstructure:"nats" json:"nats" validate:"required"`
	// Gateway are the gateway server configs
	Gateway GatewayServerConfig `mapstructure:"gateway" json:"gateway" validate:"required"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default NATS settings
	viper.SetDefault("nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.connect_timeout_sec", 30)
	viper.SetDefault("nats.reconnect.max_attempts", -1)
	viper.SetDefault("nats.reconnect.wait_interval_sec", 15)

	// Default gateway HTTP server settings
	viper.SetDefault("gateway.endpoint_config.path_prefix", "/")
	viper.SetDefault("gateway.endpoint_config.websocket_path", "/ws")
	viper.SetDefault("gateway.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("gateway.api_server.server_config.listen_port", 3000)
	viper.SetDefault("gateway.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("gateway.api_server.server_config.write_timeout_sec", 60)
	viper.SetDefault("gateway.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"gateway.api_server.logging_config.request_id_header", "Rtgateway-Request-ID",
	)
	viper.SetDefault(
		"gateway.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)

	// Default persistent connection settings
	viper.SetDefault("gateway.websocket.require_auth", true)
	viper.SetDefault("gateway.websocket.allowed_origins", []string{})
	viper.SetDefault("gateway.websocket.read_buffer_size", 4096)
	viper.SetDefault("gateway.websocket.write_buffer_size", 4096)
	viper.SetDefault("gateway.websocket.send_queue_depth", 64)
	viper.SetDefault("gateway.websocket.write_timeout_sec", 10)
	viper.SetDefault("gateway.websocket.max_message_bytes", 65536)
	viper.SetDefault("gateway.websocket.max_connections", 10000)

	// Default liveness settings
	viper.SetDefault("gateway.liveness.idle_timeout_sec", 30)
	viper.SetDefault("gateway.liveness.probe_timeout_sec", 10)

	// Default admission control settings
	viper.SetDefault("gateway.rate_limit.enabled", true)
	viper.SetDefault("gateway.rate_limit.trust_forwarded_for", false)
	viper.SetDefault("gateway.rate_limit.sweep_interval_sec", 60)
	viper.SetDefault("gateway.rate_limit.fallback.name", "general")
	viper.SetDefault("gateway.rate_limit.fallback.path_prefix", "/")
	viper.SetDefault("gateway.rate_limit.fallback.capacity", 100)
	viper.SetDefault("gateway.rate_limit.fallback.window_sec", 900)
	viper.SetDefault("gateway.rate_limit.categories", []map[string]interface{}{
		{"name": "maps", "path_prefix": "/api/maps", "capacity": 50, "window_sec": 60},
		{"name": "weather", "path_prefix": "/api/weather", "capacity": 50, "window_sec": 60},
		{"name": "keyVault", "path_prefix": "/api/keyvault", "capacity": 20, "window_sec": 60},
		{
			"name": "containerApps", "path_prefix": "/api/container-apps",
			"capacity": 30, "window_sec": 60,
		},
		{"name": "devops", "path_prefix": "/api/devops", "capacity": 30, "window_sec": 60},
		{"name": "logs", "path_prefix": "/api/logs", "capacity": 200, "window_sec": 60},
	})

	// Default auth settings
	viper.SetDefault("gateway.auth.algorithm", "HS256")
	viper.SetDefault("gateway.auth.secret_key", "")
	viper.SetDefault("gateway.auth.leeway_sec", 5)
	_ = viper.BindEnv("gateway.auth.secret_key", "GATEWAY_AUTH_SECRET")

	// Default backend settings
	viper.SetDefault("gateway.backend.mode", "nats")
	viper.SetDefault("gateway.backend.subject_prefix", "rtgateway.backend")
	viper.SetDefault("gateway.backend.request_timeout_sec", 15)
}
