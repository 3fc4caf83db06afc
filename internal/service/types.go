package service

type ScenarioRequest struct {
	Scenario string `json:"scenario"`
}

type WhitelistRequest struct {
	IP string `json:"ip"`
}

// CommandResult is the response body of every mutating operation.
type CommandResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}
