package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/rs/zerolog/log"
)

const (
	Name   = "CloudGoatGateway"
	Prefix = "CLOUDGOAT"
)

// StartNATSMicro exposes the gateway as a NATS micro service.
// The caller stops the returned service.
func StartNATSMicro(nc *nats.Conn, gw Gateway) (micro.Service, error) {
	svc, err := micro.AddService(nc, micro.Config{
		Name:        Name,
		Description: "NATS micro service to create and destroy CloudGoat scenarios.",
		Version:     "0.0.1",
	})
	if err != nil {
		return nil, fmt.Errorf("error creating nats micro service: %w", err)
	}

	endpoints := []struct {
		name    string
		handler func(r micro.Request, gw Gateway)
		request string
	}{
		{name: "SCENARIOS", handler: listScenarios, request: ""},
		{name: "CREATE", handler: createScenario, request: `{"scenario": "string"}`},
		{name: "DESTROY", handler: destroyScenario, request: `{"scenario": "string"}`},
		{name: "WHITELIST", handler: whitelistIP, request: `{"ip": "string"}`},
	}
	for _, ep := range endpoints {
		err = svc.AddEndpoint(
			ep.name,
			microLogHandler(gw, ep.handler),
			micro.WithEndpointSubject(fmt.Sprintf("%s.%s", Prefix, ep.name)),
			micro.WithEndpointMetadata(map[string]string{
				"request": ep.request,
			}),
		)
		if err != nil {
			svc.Stop()
			return nil, fmt.Errorf("error adding %s endpoint: %w", ep.name, err)
		}
	}

	log.Info().Str("prefix", Prefix).Msg("nats micro service started")
	return svc, nil
}

// Endpoint callbacks run one at a time per subscription, so each request
// gets its own goroutine to keep tool invocations concurrent.
func microLogHandler(gw Gateway, fn func(r micro.Request, gw Gateway)) micro.Handler {
	return micro.HandlerFunc(func(r micro.Request) {
		log.Info().Str("subject", r.Subject()).Msg("received request")
		go fn(r, gw)
	})
}

func microContext() context.Context {
	return context.WithValue(context.Background(), RequestIdKey, uuid.New().String())
}

func listScenarios(r micro.Request, gw Gateway) {
	err := r.RespondJSON(gw.Scenarios())
	if err != nil {
		log.Error().Err(err).Msg("scenarios response error")
	}
}

func createScenario(r micro.Request, gw Gateway) {
	var req ScenarioRequest
	if !decodeMicroRequest(r, &req, `{"scenario": "string"}`) {
		return
	}
	res, err := gw.Create(microContext(), req.Scenario)
	respondCommandResult(r, res, err)
}

func destroyScenario(r micro.Request, gw Gateway) {
	var req ScenarioRequest
	if !decodeMicroRequest(r, &req, `{"scenario": "string"}`) {
		return
	}
	res, err := gw.Destroy(microContext(), req.Scenario)
	respondCommandResult(r, res, err)
}

func whitelistIP(r micro.Request, gw Gateway) {
	var req WhitelistRequest
	if !decodeMicroRequest(r, &req, `{"ip": "string"}`) {
		return
	}
	res, err := gw.Whitelist(microContext(), req.IP)
	respondCommandResult(r, res, err)
}

func decodeMicroRequest(r micro.Request, v any, format string) bool {
	err := json.Unmarshal(r.Data(), v)
	if err != nil {
		res := &CommandResult{Success: false, Output: fmt.Sprintf("expected request format is %s", format)}
		respondError(r, "400", "invalid request", res)
		return false
	}
	return true
}

func respondCommandResult(r micro.Request, res *CommandResult, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		respondError(r, "400", "invalid input", res)
	case err != nil:
		respondError(r, "500", "gateway error", &CommandResult{Success: false, Output: err.Error()})
	case !res.Success:
		respondError(r, "500", "command failed", res)
	default:
		if err := r.RespondJSON(res); err != nil {
			log.Error().Err(err).Msg("command response error")
		}
	}
}

// The description travels in a header, the full output only in the body.
func respondError(r micro.Request, code, description string, res *CommandResult) {
	data, _ := json.Marshal(res)
	if err := r.Error(code, description, data); err != nil {
		log.Error().Err(err).Msg("error response error")
	}
}
