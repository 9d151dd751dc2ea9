package swap

// ExecuteRequest is the body of POST /api/swaps/execute.
type ExecuteRequest struct {
	AccountName string `json:"accountName"`
	FromToken   string `json:"fromToken"`
	ToToken     string `json:"toToken"`
	FromAmount  string `json:"fromAmount"` // base units
	SlippageBps int    `json:"slippageBps"`
	Network     string `json:"network"`
}

type ExecuteResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    *ExecuteResult `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type ExecuteResult struct {
	TransactionHash     string `json:"transactionHash"`
	FromAmount          string `json:"fromAmount"`
	Network             string `json:"network"`
	BlockNumber         int64  `json:"blockNumber"`
	GasUsed             string `json:"gasUsed"`
	Status              string `json:"status"`
	TransactionExplorer string `json:"transactionExplorer"`
}

type BalanceResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    *BalanceData `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
}

type BalanceData struct {
	Account  string         `json:"account"`
	Network  string         `json:"network"`
	Balances []TokenBalance `json:"balances"`
}

type TokenBalance struct {
	Token struct {
		ContractAddress string `json:"contractAddress"`
		Symbol          string `json:"symbol"`
		Decimals        int    `json:"decimals"`
	} `json:"token"`
	Amount struct {
		Raw       string `json:"raw"`
		Formatted string `json:"formatted"`
	} `json:"amount"`
}

// errorBody is the subset of an error response we read.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
