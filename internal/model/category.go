package model

// Category represents a budget category that transactions can be assigned to.
type Category struct {
	ID        string
	Name      string
	GroupName string
	IsIncome  bool
	Hidden    bool
}

// Account represents a budget account.
type Account struct {
	ID        string
	Name      string
	OffBudget bool
	Closed    bool
}

// Payee represents a payee known to the budget server.
type Payee struct {
	ID              string
	Name            string
	TransferAccount string // Non-empty for transfer payees
}
