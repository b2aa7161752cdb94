package agentmarket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// RunRequest is the payload of an orchestration. BudgetUSDT is a decimal
// string; empty means no ceiling.
type RunRequest struct {
	Task           string `json:"task"`
	Input          string `json:"input"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
	BudgetUSDT     string `json:"budgetUsdt,omitempty"`
}

// Transaction is one settled payment.
type Transaction struct {
	Agent     string `json:"agent"`
	TxHash    string `json:"txHash"`
	OrderID   string `json:"orderId"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	ChainID   int64  `json:"chainId"`
	Explorer  string `json:"explorer"`
	PaidBy    string `json:"paidBy"`
	Simulated bool   `json:"simulated,omitempty"`
}

// Output is one agent's output.
type Output struct {
	Agent string
	Text  string
}

// Outputs keeps the server's agent order, which a map would lose.
type Outputs []Output

// Get returns the output for an agent.
func (o Outputs) Get(agent string) (string, bool) {
	for _, out := range o {
		if out.Agent == agent {
			return out.Text, true
		}
	}
	return "", false
}

// UnmarshalJSON decodes a JSON object preserving key order.
func (o *Outputs) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("outputs: expected object, got %v", tok)
	}
	var result Outputs
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var text string
		if err := dec.Decode(&text); err != nil {
			return fmt.Errorf("outputs[%s]: %w", key, err)
		}
		result = append(result, Output{Agent: key, Text: text})
	}
	*o = result
	return nil
}

// RunResult is the aggregated orchestration result.
type RunResult struct {
	RunID        string        `json:"runId"`
	Task         string        `json:"task"`
	Timestamp    time.Time     `json:"timestamp"`
	AgentSource  string        `json:"agentSource"`
	Transactions []Transaction `json:"transactions"`
	Outputs      Outputs       `json:"outputs"`
	DemoMode     bool          `json:"demoMode"`
}

// Agent describes a registry entry.
type Agent struct {
	ID          uint64 `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Endpoint    string `json:"endpoint"`
	MerchantID  string `json:"merchantId"`
	PriceUSDT   string `json:"priceUsdt"`
	X402Support bool   `json:"x402Support"`
	Active      bool   `json:"active"`
}

// Directory is the agent listing with its origin (registry or fallback).
type Directory struct {
	Agents []Agent `json:"agents"`
	Origin string  `json:"origin"`
}

// JobRequest echoes the request stored with a job. The server encodes an
// absent budget as null.
type JobRequest struct {
	Task           string  `json:"task"`
	Input          string  `json:"input"`
	TargetLanguage string  `json:"targetLanguage"`
	BudgetUSDT     *string `json:"budgetUsdt"`
}

// Job is an asynchronous orchestration.
type Job struct {
	ID        string     `json:"id"`
	Request   JobRequest `json:"request"`
	Status    string     `json:"status"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error"`
	ErrorCode string     `json:"error_code"`
	Result    *RunResult `json:"result"`
	CreatedAt int64      `json:"created_at"`
	UpdatedAt int64      `json:"updated_at"`
	ExpiresAt int64      `json:"expires_at"`
}

// HireParams are the arguments of the hire_agent tool.
type HireParams struct {
	AgentID          uint64 `json:"agent_id"`
	Task             string `json:"task"`
	Input            string `json:"input"`
	BudgetUSDT       string `json:"budget_usdt,omitempty"`
	TargetLanguage   string `json:"target_language,omitempty"`
	CallerPrivateKey string `json:"caller_private_key,omitempty"`
	CallerAddress    string `json:"caller_address,omitempty"`
}

// HireResult is the hire_agent tool result. Error is set when the agent was
// not hired before payment.
type HireResult struct {
	Error       string     `json:"error,omitempty"`
	JobID       string     `json:"job_id"`
	Agent       string     `json:"agent"`
	TxHash      string     `json:"tx_hash"`
	OrderID     string     `json:"order_id"`
	Result      string     `json:"result"`
	ExplorerURL string     `json:"explorer_url"`
	PaidBy      string     `json:"paid_by"`
	SelfFunded  bool       `json:"self_funded"`
	DemoMode    bool       `json:"demo_mode"`
	Run         *RunResult `json:"run,omitempty"`
}
