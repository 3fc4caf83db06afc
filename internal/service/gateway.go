package service

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/synadia-labs/cloudgoat-gateway/internal/tool"
)

var ErrInvalidInput = errors.New("invalid input")

const (
	invalidScenarioMessage = "Invalid scenario name provided."
	missingIPMessage       = "No IP address provided."
)

type Gateway interface {
	// the allow-list, in configured order
	Scenarios() []string

	// cloudgoat create <scenario>
	Create(ctx context.Context, scenario string) (*CommandResult, error)

	// cloudgoat destroy <scenario>, confirmed
	Destroy(ctx context.Context, scenario string) (*CommandResult, error)

	// cloudgoat config whitelist, answering with ip
	Whitelist(ctx context.Context, ip string) (*CommandResult, error)

	// number of tool invocations still running
	InFlight() int
}

// NewGateway copies scenarios, later changes to the caller's slice are not seen.
func NewGateway(runner tool.Runner, scenarios []string) Gateway {
	return &gateway{
		runner:    runner,
		scenarios: slices.Clone(scenarios),
	}
}

type gateway struct {
	runner    tool.Runner
	scenarios []string
	inFlight  atomic.Int64
}

func (g *gateway) InFlight() int {
	return int(g.inFlight.Load())
}

func (g *gateway) Scenarios() []string {
	return append([]string{}, g.scenarios...)
}

func (g *gateway) Create(ctx context.Context, scenario string) (*CommandResult, error) {
	if !g.allowed(scenario) {
		return invalid(invalidScenarioMessage)
	}
	log.Info().Str("request_id", requestId(ctx)).Str("scenario", scenario).Msg("attempting to create scenario")
	return g.invoke(ctx, OpCreate, createInvocation(scenario)), nil
}

func (g *gateway) Destroy(ctx context.Context, scenario string) (*CommandResult, error) {
	if !g.allowed(scenario) {
		return invalid(invalidScenarioMessage)
	}
	log.Info().Str("request_id", requestId(ctx)).Str("scenario", scenario).Msg("attempting to destroy scenario")
	return g.invoke(ctx, OpDestroy, destroyInvocation(scenario)), nil
}

func (g *gateway) Whitelist(ctx context.Context, ip string) (*CommandResult, error) {
	if ip == "" {
		return invalid(missingIPMessage)
	}
	log.Info().Str("request_id", requestId(ctx)).Str("ip", ip).Msg("attempting to whitelist ip")
	return g.invoke(ctx, OpWhitelist, whitelistInvocation(ip)), nil
}

func (g *gateway) allowed(scenario string) bool {
	return scenario != "" && slices.Contains(g.scenarios, scenario)
}

func (g *gateway) invoke(ctx context.Context, op string, inv tool.Invocation) *CommandResult {
	g.inFlight.Add(1)
	TrackInFlight(1)
	res := g.runner.Run(ctx, inv)
	TrackInFlight(-1)
	g.inFlight.Add(-1)
	RecordInvocation(op, res.Outcome, res.Duration)

	event := log.Info()
	switch res.Outcome {
	case tool.OutcomeSucceeded:
	case tool.OutcomeTimeout:
		// partial output is dropped from the response, keep its size for operators
		event = log.Warn().
			Int("partial_stdout_bytes", len(res.Stdout)).
			Int("partial_stderr_bytes", len(res.Stderr))
	default:
		event = log.Error().Int("code", res.Code).AnErr("error", res.Err)
	}
	event.
		Str("request_id", requestId(ctx)).
		Str("op", op).
		Str("outcome", res.Outcome.String()).
		Dur("duration", res.Duration).
		Msg("cloudgoat invocation finished")

	return &CommandResult{
		Success: res.Succeeded(),
		Output:  res.Output(),
	}
}

func invalid(message string) (*CommandResult, error) {
	return &CommandResult{Success: false, Output: message}, ErrInvalidInput
}
