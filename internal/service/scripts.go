package service

import (
	"time"

	"github.com/synadia-labs/cloudgoat-gateway/internal/tool"
)

// Operation names, also used as log fields and metric labels.
const (
	OpCreate    = "create"
	OpDestroy   = "destroy"
	OpWhitelist = "whitelist"
)

const (
	createTimeout    = 900 * time.Second
	destroyTimeout   = 900 * time.Second
	whitelistTimeout = 60 * time.Second
)

// The scripted answers below follow cloudgoat's interactive prompts.
// If the prompts change, this is the only place to update.

func createInvocation(scenario string) tool.Invocation {
	return tool.Invocation{
		Args:    []string{"create", scenario},
		Timeout: createTimeout,
	}
}

// destroy asks for confirmation before tearing down
func destroyInvocation(scenario string) tool.Invocation {
	return tool.Invocation{
		Args:    []string{"destroy", scenario},
		Script:  "y\n",
		Timeout: destroyTimeout,
	}
}

// whitelist asks for confirmation, then for the address
func whitelistInvocation(ip string) tool.Invocation {
	return tool.Invocation{
		Args:    []string{"config", "whitelist"},
		Script:  "y\n" + ip + "\n",
		Timeout: whitelistTimeout,
	}
}
