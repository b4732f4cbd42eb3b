package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Lead struct {
	ID        string
	Email     string
	Name      string
	Phone     string
	Source    string
	Status    string
	CreatedAt time.Time
}

type Account struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	CreatedAt time.Time
}

type Contact struct {
	ID        string
	AccountID string
	Name      string
	Email     string
	Phone     string
	IsPrimary bool
	CreatedAt time.Time
}

type OpportunityStage string

const (
	StageDraft     OpportunityStage = "DRAFT"
	StageQuoteSent OpportunityStage = "QUOTE_SENT"
	StageWon       OpportunityStage = "WON"
	StageLost      OpportunityStage = "LOST"
)

type Opportunity struct {
	ID          string
	AccountID   string
	Name        string
	Stage       OpportunityStage
	Value       decimal.Decimal
	Probability int
	WonDate     *time.Time
	CloseDate   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MarkWon closes the opportunity at the settled invoice value.
func (o *Opportunity) MarkWon(value decimal.Decimal, at time.Time) {
	o.Stage = StageWon
	o.Value = value
	o.Probability = 100
	o.WonDate = &at
	o.CloseDate = &at
	o.UpdatedAt = at
}

type Activity struct {
	ID         string
	Type       string
	Subject    string
	EntityType string
	EntityID   string
	AccountID  string
	UserID     string
	CreatedAt  time.Time
}

type AbandonedCartStatus string

const (
	AbandonedCartActive    AbandonedCartStatus = "ACTIVE"
	AbandonedCartConverted AbandonedCartStatus = "CONVERTED"
)

type AbandonedCart struct {
	ID        string
	SessionID string
	Email     string
	Cart      Cart
	Status    AbandonedCartStatus
	OrderID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
