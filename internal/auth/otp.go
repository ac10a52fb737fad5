package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"graphbase.dev/internal/schema"
)

const (
	otpDigits     = 6
	defaultOTPTTL = 5 * time.Minute
)

// OTPSender delivers a one-time code to a user, typically over email.
type OTPSender interface {
	Send(ctx context.Context, email, code string) error
}

// OTP is a secondary authentication factor. Codes are held in memory with
// a short expiry; a lost code is re-sent, never recovered.
type OTP struct {
	sender OTPSender
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	codes map[string]otpChallenge
}

type otpChallenge struct {
	code      string
	expiresAt time.Time
}

// NewOTP builds the factor. sender may be nil in tests; challenges are
// then stored but not delivered.
func NewOTP(sender OTPSender) *OTP {
	return &OTP{
		sender: sender,
		ttl:    defaultOTPTTL,
		now:    time.Now,
		codes:  make(map[string]otpChallenge),
	}
}

// OTPMethod is the ready-to-register secondary-factor descriptor.
func OTPMethod(otp *OTP) Method {
	return Method{
		Name: "otp",
		Input: map[string]schema.Field{
			"code": {Type: schema.TypeString, Required: true},
		},
		Secondary:         otp,
		IsSecondaryFactor: true,
	}
}

func (o *OTP) OnSendChallenge(ctx context.Context, user map[string]any) error {
	userID, _ := user["id"].(string)
	email, _ := user["email"].(string)
	if userID == "" {
		return errors.New("auth: otp challenge without a user")
	}

	code, err := generateOTPCode()
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.codes[userID] = otpChallenge{code: code, expiresAt: o.now().Add(o.ttl)}
	o.mu.Unlock()

	if o.sender != nil {
		if err := o.sender.Send(ctx, email, code); err != nil {
			return fmt.Errorf("auth: send otp: %w", err)
		}
	}
	return nil
}

func (o *OTP) OnVerifyChallenge(ctx context.Context, input map[string]any, user map[string]any) (bool, error) {
	userID, _ := user["id"].(string)
	code, _ := input["code"].(string)
	if userID == "" || code == "" {
		return false, nil
	}

	o.mu.Lock()
	challenge, ok := o.codes[userID]
	if ok {
		delete(o.codes, userID)
	}
	o.mu.Unlock()

	if !ok || o.now().After(challenge.expiresAt) {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(challenge.code), []byte(code)) == 1, nil
}

func generateOTPCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("auth: generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n), nil
}
