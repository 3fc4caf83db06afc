package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/synadia-labs/cloudgoat-gateway/internal/config"
	"github.com/synadia-labs/cloudgoat-gateway/internal/tool"
)

func TestNatsOptions(t *testing.T) {
	tests := []struct {
		name string
		nats config.NatsConfig
		want int
	}{
		{name: "anonymous", nats: config.NatsConfig{Url: "nats://127.0.0.1:4222"}, want: 1},
		{name: "jwt and seed", nats: config.NatsConfig{Url: "nats://127.0.0.1:4222", Jwt: "jwt", Nkey: "SU..."}, want: 2},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			opts := natsOptions(&config.Config{Nats: test.nats})
			require.Len(t, opts, test.want)
		})
	}
}

func TestNewRunnerUsesToolCommand(t *testing.T) {
	cfg := &config.Config{
		Tool: config.ToolConfig{Path: "sh", BaseArgs: []string{"-c", `printf '%s ' "$@"`, "cloudgoat"}},
	}

	res := newRunner(cfg).Run(context.Background(), tool.Invocation{
		Args:    []string{"config", "whitelist"},
		Timeout: 5 * time.Second,
	})
	require.True(t, res.Succeeded(), "err: %v", res.Err)
	require.Equal(t, "config whitelist \n", res.Output())
}
