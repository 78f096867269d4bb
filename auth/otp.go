package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
)

// Provider endpoints
const (
	startOTPPath  = "/v1/auth/email/start"
	verifyOTPPath = "/v1/auth/email/verify"
)

// ErrInvalidOTP is returned when the provider refuses a one-time password
var ErrInvalidOTP = errors.New("invalid or expired one-time password")

type startOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type startOTPResponse struct {
	FlowID string `json:"flowId"`
}

type verifyOTPRequest struct {
	FlowID string `json:"flowId" validate:"required"`
	OTP    string `json:"otp" validate:"required,numeric,len=6"`
}

type providerError struct {
	Code    string `json:"errorType"`
	Message string `json:"errorMessage"`
}

// OTPClient drives the embedded-wallet provider's email sign-in
type OTPClient struct {
	client   *resty.Client
	validate *validator.Validate
}

// NewOTPClient creates a client for the provider at baseURL; projectID is
// sent with every request
func NewOTPClient(baseURL, projectID string) *OTPClient {
	return &OTPClient{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(10*time.Second).
			SetHeader("X-Project-ID", projectID),
		validate: validator.New(),
	}
}

// StartEmailOTP sends a one-time password to email and returns the flow id
// to verify it with
func (c *OTPClient) StartEmailOTP(ctx context.Context, email string) (string, error) {
	body := startOTPRequest{Email: strings.TrimSpace(email)}
	if err := c.validate.Struct(body); err != nil {
		return "", fmt.Errorf("invalid email: %w", err)
	}

	var result startOTPResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&providerError{}).
		Post(startOTPPath)
	if err := providerErr(resp, err, nil); err != nil {
		return "", err
	}
	if result.FlowID == "" {
		return "", errors.New("provider returned no flow id")
	}
	return result.FlowID, nil
}

// VerifyOTP exchanges the code for a session holding the user's embedded wallet
func (c *OTPClient) VerifyOTP(ctx context.Context, flowID, code string) (*Session, error) {
	body := verifyOTPRequest{FlowID: flowID, OTP: strings.TrimSpace(code)}
	if err := c.validate.Struct(body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOTP, err)
	}

	var session Session
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&session).
		SetError(&providerError{}).
		Post(verifyOTPPath)
	if err := providerErr(resp, err, ErrInvalidOTP); err != nil {
		return nil, err
	}
	if session.Token == "" || session.Wallet == "" {
		return nil, errors.New("provider returned an incomplete session")
	}
	return &session, nil
}

// providerErr wraps rejected for 400 and 401 answers when it is non-nil
func providerErr(resp *resty.Response, err error, rejected error) error {
	if err != nil {
		return fmt.Errorf("wallet provider request failed: %w", err)
	}
	if resp.IsSuccess() {
		return nil
	}
	msg := strings.TrimSpace(string(resp.Body()))
	if pe, ok := resp.Error().(*providerError); ok && pe.Message != "" {
		msg = pe.Message
	}
	if rejected != nil && (resp.StatusCode() == http.StatusBadRequest || resp.StatusCode() == http.StatusUnauthorized) {
		return fmt.Errorf("%w: %s", rejected, msg)
	}
	return fmt.Errorf("wallet provider returned %d: %s", resp.StatusCode(), msg)
}
