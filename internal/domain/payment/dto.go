package payment

import "github.com/yogaspace/yogaspace-api/internal/domain/ledger"

// WebhookAck is the body returned to the provider.
type WebhookAck struct {
	Received bool   `json:"received"`
	Status   string `json:"status,omitempty"`
}

// WebhookError is the non-enveloped error body for provider calls.
type WebhookError struct {
	Message string `json:"message"`
}

type VerifyRequest struct {
	SessionID string `json:"sessionId" validate:"required,max=255"`
}

type VerifyResponse struct {
	Success    bool            `json:"success"`
	Status     string          `json:"status"`
	Verified   bool            `json:"verified"`
	Credits    int             `json:"credits,omitempty"`
	Membership *MembershipInfo `json:"membership,omitempty"`
	Outcome    ledger.Outcome  `json:"outcome,omitempty"`
	ClaimID    string          `json:"claimId,omitempty"`
	Message    string          `json:"message"`
}

func VerifyResponseFrom(r *VerifyResult) VerifyResponse {
	return VerifyResponse{
		Success:    r.Status == VerifySuccess,
		Status:     r.Status,
		Verified:   r.Verified,
		Credits:    r.Credits,
		Membership: r.Membership,
		Outcome:    r.Outcome,
		ClaimID:    r.ClaimID,
		Message:    r.Message,
	}
}

type RedeemRequest struct {
	SessionID string `json:"sessionId" validate:"required,max=255"`
}

type RedeemResponse struct {
	ClaimID    string          `json:"claimId"`
	Outcome    ledger.Outcome  `json:"outcome"`
	Credits    int             `json:"credits,omitempty"`
	Membership *MembershipInfo `json:"membership,omitempty"`
}

func RedeemResponseFrom(c *ledger.Claim, outcome ledger.Outcome) RedeemResponse {
	resp := RedeemResponse{ClaimID: c.ID, Outcome: outcome}
	switch c.Kind {
	case ledger.KindCredits:
		resp.Credits = c.Credits
	case ledger.KindMembership:
		resp.Membership = &MembershipInfo{TierID: c.TierID, Months: c.Months}
	}
	return resp
}
