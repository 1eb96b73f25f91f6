package gateway

// GatewayConfig holds the web console server settings.
type GatewayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Host    string `json:"host" yaml:"host" env:"HOST"`
	Port    int    `json:"port" yaml:"port" env:"PORT"`
	// Token, when set, must be passed as ?token= to open the console socket.
	Token string `json:"token,omitempty" yaml:"token,omitempty" env:"TOKEN"`
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{Enabled: true, Host: "0.0.0.0", Port: 4001}
}
