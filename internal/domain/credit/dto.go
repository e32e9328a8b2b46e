package credit

type BalanceResponse struct {
	Balance int `json:"balance"`
}

type SpendBody struct {
	Amount      int    `json:"amount" validate:"required,gt=0,lte=100000"`
	ReferenceID string `json:"referenceId" validate:"required,max=128"`
	Description string `json:"description" validate:"max=255"`
}

type SpendResponse struct {
	Transaction Transaction `json:"transaction"`
	Balance     int         `json:"balance"`
	Replayed    bool        `json:"replayed"`
}
