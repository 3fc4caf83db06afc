package service

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/stretchr/testify/require"
	"github.com/synadia-labs/cloudgoat-gateway/internal/tool"
)

// fakeRequest captures what a micro handler responds with.
type fakeRequest struct {
	subject string
	data    []byte

	response  []byte
	errCode   string
	errDesc   string
	errData   []byte
	responded int
}

func (f *fakeRequest) Respond(data []byte, _ ...micro.RespondOpt) error {
	f.responded++
	f.response = data
	return nil
}

func (f *fakeRequest) RespondJSON(v any, _ ...micro.RespondOpt) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return f.Respond(data)
}

func (f *fakeRequest) Error(code, description string, data []byte, _ ...micro.RespondOpt) error {
	f.responded++
	f.errCode = code
	f.errDesc = description
	f.errData = data
	return nil
}

func (f *fakeRequest) Data() []byte           { return f.data }
func (f *fakeRequest) Headers() micro.Headers { return micro.Headers{} }
func (f *fakeRequest) Subject() string        { return f.subject }
func (f *fakeRequest) Reply() string          { return "_INBOX.test" }

func TestMicroScenarios(t *testing.T) {
	gw := NewGateway(newFakeRunner(succeeded("", "")), testScenarios)
	req := &fakeRequest{subject: Prefix + ".SCENARIOS"}

	listScenarios(req, gw)

	var got []string
	require.NoError(t, json.Unmarshal(req.response, &got))
	require.Equal(t, testScenarios, got)
}

func TestMicroCommands(t *testing.T) {
	tests := []struct {
		name      string
		handler   func(micro.Request, Gateway)
		data      string
		result    tool.Result
		wantCode  string
		wantDesc  string
		wantBody  string
		wantCalls int
	}{
		{
			name:      "create ok",
			handler:   createScenario,
			data:      `{"scenario": "sns_secrets"}`,
			result:    succeeded("OK", ""),
			wantBody:  `{"success":true,"output":"OK\n"}`,
			wantCalls: 1,
		},
		{
			name:     "create invalid",
			handler:  createScenario,
			data:     `{"scenario": "nope"}`,
			result:   succeeded("OK", ""),
			wantCode: "400",
			wantDesc: "invalid input",
			wantBody: `{"success":false,"output":"Invalid scenario name provided."}`,
		},
		{
			name:     "destroy malformed",
			handler:  destroyScenario,
			data:     `not json`,
			result:   succeeded("OK", ""),
			wantCode: "400",
			wantDesc: "invalid request",
			wantBody: `{"success":false,"output":"expected request format is {\"scenario\": \"string\"}"}`,
		},
		{
			name:      "destroy failure",
			handler:   destroyScenario,
			data:      `{"scenario": "cloud_breach_s3"}`,
			result:    tool.Result{Outcome: tool.OutcomeFailed, Code: 2, Stdout: "A", Stderr: "B"},
			wantCode:  "500",
			wantDesc:  "command failed",
			wantBody:  `{"success":false,"output":"Command failed with exit code 2:\nSTDOUT: A\nSTDERR: B"}`,
			wantCalls: 1,
		},
		{
			name:     "whitelist missing ip",
			handler:  whitelistIP,
			data:     `{}`,
			result:   succeeded("OK", ""),
			wantCode: "400",
			wantDesc: "invalid input",
			wantBody: `{"success":false,"output":"No IP address provided."}`,
		},
		{
			name:      "whitelist ok",
			handler:   whitelistIP,
			data:      `{"ip": "198.51.100.4"}`,
			result:    succeeded("done", ""),
			wantBody:  `{"success":true,"output":"done\n"}`,
			wantCalls: 1,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			runner := newFakeRunner(test.result)
			gw := NewGateway(runner, testScenarios)
			req := &fakeRequest{subject: Prefix + ".TEST", data: []byte(test.data)}

			test.handler(req, gw)

			require.Equal(t, 1, req.responded)
			require.Equal(t, test.wantCode, req.errCode)
			require.Equal(t, test.wantDesc, req.errDesc)
			if test.wantCode == "" {
				require.JSONEq(t, test.wantBody, string(req.response))
			} else {
				require.JSONEq(t, test.wantBody, string(req.errData))
			}
			require.Len(t, runner.Calls(), test.wantCalls)
		})
	}
}

// slowRunner holds each invocation for delay and records peak concurrency.
type slowRunner struct {
	delay   time.Duration
	running atomic.Int64
	peak    atomic.Int64
}

func (s *slowRunner) Run(ctx context.Context, inv tool.Invocation) *tool.Result {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(s.delay)
	return &tool.Result{Outcome: tool.OutcomeSucceeded, Stdout: "OK"}
}

func runNATSServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second))
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestMicroServiceRunsRequestsConcurrently(t *testing.T) {
	ns := runNATSServer(t)

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	runner := &slowRunner{delay: 500 * time.Millisecond}
	gw := NewGateway(runner, testScenarios)
	svc, err := StartNATSMicro(nc, gw)
	require.NoError(t, err)
	defer svc.Stop()

	const requests = 4
	var wg sync.WaitGroup
	replies := make([]*nats.Msg, requests)
	errs := make([]error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			replies[i], errs[i] = nc.Request(Prefix+".CREATE", []byte(`{"scenario": "sns_secrets"}`), 5*time.Second)
		}(i)
	}
	wg.Wait()

	for i := 0; i < requests; i++ {
		require.NoError(t, errs[i])
		require.JSONEq(t, `{"success":true,"output":"OK\n"}`, string(replies[i].Data))
	}
	require.Greater(t, runner.peak.Load(), int64(1))
}

func TestMicroServiceScenarios(t *testing.T) {
	ns := runNATSServer(t)

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	svc, err := StartNATSMicro(nc, NewGateway(newFakeRunner(succeeded("", "")), testScenarios))
	require.NoError(t, err)
	defer svc.Stop()

	msg, err := nc.Request(Prefix+".SCENARIOS", nil, 5*time.Second)
	require.NoError(t, err)

	var got []string
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	require.Equal(t, testScenarios, got)
}
