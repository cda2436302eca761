package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ManualProviderKey registers the offline gateway (cash on delivery, bank transfer) with the Manager.
const ManualProviderKey = "manual"

// ManualProvider settles payments confirmed out of band. Proofs are HMAC-SHA256 signatures over
// the payment id and the collector's reference, issued by whoever collected the money.
type ManualProvider struct {
	secret []byte
}

var _ Provider = (*ManualProvider)(nil)

// NewManualProvider constructs the offline gateway with the shared signing secret.
func NewManualProvider(secret string) (*ManualProvider, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("manual: signing secret is required")
	}
	return &ManualProvider{secret: []byte(secret)}, nil
}

// Sign returns the hex signature a collector attaches to a confirmation.
func (p *ManualProvider) Sign(paymentID, referenceID string) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(strings.TrimSpace(paymentID)))
	mac.Write([]byte{':'})
	mac.Write([]byte(strings.TrimSpace(referenceID)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *ManualProvider) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	if strings.TrimSpace(req.PaymentID) == "" {
		return Intent{}, errors.New("manual: payment id is required")
	}
	return Intent{
		Provider: ManualProviderKey,
		IntentID: "manual_" + req.PaymentID,
		Status:   StatusPending,
	}, nil
}

func (p *ManualProvider) VerifySignature(_ context.Context, req VerifyRequest) (Verification, error) {
	ref := strings.TrimSpace(req.ReferenceID)
	if ref == "" {
		return Verification{}, fmt.Errorf("%w: reference id missing", ErrInvalidSignature)
	}
	given, err := hex.DecodeString(strings.TrimSpace(req.Signature))
	if err != nil || len(given) == 0 {
		return Verification{}, fmt.Errorf("%w: signature encoding invalid", ErrInvalidSignature)
	}
	expected, _ := hex.DecodeString(p.Sign(req.PaymentID, ref))
	if !hmac.Equal(given, expected) {
		return Verification{}, fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}
	return Verification{
		Status:          StatusSucceeded,
		ReferenceID:     ref,
		ResponseCode:    "manual_confirmed",
		ResponseMessage: "confirmed by collector",
	}, nil
}

func (p *ManualProvider) Refund(_ context.Context, req RefundRequest) (RefundResult, error) {
	if strings.TrimSpace(req.PaymentID) == "" {
		return RefundResult{}, errors.New("manual: payment id is required")
	}
	return RefundResult{RefundID: "manual_refund_" + req.PaymentID, Status: "pending"}, nil
}
