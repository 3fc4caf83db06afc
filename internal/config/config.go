package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/shlex"
	"github.com/nats-io/nkeys"
)

const (
	DefaultHttpPort    = "8000"
	DefaultToolCommand = "cloudgoat"
)

// DefaultScenarios is the allow-list used when no config file names one.
var DefaultScenarios = []string{
	"sns_secrets",
}

type ToolConfig struct {
	// executable name or path
	Path string
	// arguments placed before every subcommand
	BaseArgs []string
}

type HttpConfig struct {
	Port        string
	CorsOrigins []string
}

// NatsConfig is optional, an empty Url disables the NATS transport.
type NatsConfig struct {
	Url  string
	Nkey string
	Jwt  string
}

type Config struct {
	Tool      ToolConfig
	Http      HttpConfig
	Nats      NatsConfig
	Scenarios []string
	LogLevel  string
}

// fileConfig is the layout of GATEWAY_CONFIG_FILE.
type fileConfig struct {
	Scenarios   []string `toml:"scenarios"`
	CorsOrigins []string `toml:"cors_origins"`
}

func LoadConfig() (*Config, error) {
	// Tool config
	command := strings.TrimSpace(os.Getenv("GATEWAY_TOOL_COMMAND"))
	if command == "" {
		command = DefaultToolCommand
	}
	tool, err := parseToolCommand(command)
	if err != nil {
		return nil, err
	}

	// Scenario allow-list and CORS
	scenarios := append([]string(nil), DefaultScenarios...)
	corsOrigins := []string{"*"}

	if path := strings.TrimSpace(os.Getenv("GATEWAY_CONFIG_FILE")); path != "" {
		fc, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		if len(fc.Scenarios) > 0 {
			scenarios = fc.Scenarios
		}
		if len(fc.CorsOrigins) > 0 {
			corsOrigins = fc.CorsOrigins
		}
	}

	if origins := splitList(os.Getenv("GATEWAY_CORS_ORIGINS")); len(origins) > 0 {
		corsOrigins = origins
	}

	if err := validateScenarios(scenarios); err != nil {
		return nil, err
	}

	httpPort := os.Getenv("GATEWAY_HTTP_PORT")
	if httpPort == "" {
		httpPort = DefaultHttpPort
	}

	// Nats config
	natsCfg, err := loadNats()
	if err != nil {
		return nil, err
	}

	return &Config{
		Tool: tool,
		Http: HttpConfig{
			Port:        httpPort,
			CorsOrigins: corsOrigins,
		},
		Nats:      natsCfg,
		Scenarios: scenarios,
		LogLevel:  os.Getenv("GATEWAY_LOG_LEVEL"),
	}, nil
}

func parseToolCommand(command string) (ToolConfig, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return ToolConfig{}, fmt.Errorf("GATEWAY_TOOL_COMMAND \"%s\" is invalid: %w", command, err)
	}
	if len(args) == 0 {
		return ToolConfig{}, fmt.Errorf("GATEWAY_TOOL_COMMAND is empty")
	}
	return ToolConfig{Path: args[0], BaseArgs: args[1:]}, nil
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if _, err := toml.Decode(string(data), &fc); err != nil {
		return fileConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return fc, nil
}

func validateScenarios(scenarios []string) error {
	seen := make(map[string]struct{}, len(scenarios))
	for i, name := range scenarios {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("scenario[%d] is empty", i)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("scenario %q listed twice", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func loadNats() (NatsConfig, error) {
	natsUrl := os.Getenv("GATEWAY_NATS_URL")
	if natsUrl == "" {
		return NatsConfig{}, nil
	}

	natsNkey := strings.TrimSpace(os.Getenv("GATEWAY_NATS_NKEY"))
	natsJwtB64 := os.Getenv("GATEWAY_NATS_B64_JWT")
	if (natsNkey == "") != (natsJwtB64 == "") {
		return NatsConfig{}, fmt.Errorf("GATEWAY_NATS_NKEY and GATEWAY_NATS_B64_JWT must be set together")
	}
	if natsNkey == "" {
		return NatsConfig{Url: natsUrl}, nil
	}

	if _, err := nkeys.FromSeed([]byte(natsNkey)); err != nil {
		return NatsConfig{}, fmt.Errorf("GATEWAY_NATS_NKEY is not a valid seed: %w", err)
	}

	natsJwtBytes, err := base64.StdEncoding.DecodeString(natsJwtB64)
	if err != nil {
		return NatsConfig{}, fmt.Errorf("GATEWAY_NATS_B64_JWT is invalid base64: %w", err)
	}

	return NatsConfig{
		Url:  natsUrl,
		Nkey: natsNkey,
		Jwt:  strings.TrimSpace(string(natsJwtBytes)),
	}, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
