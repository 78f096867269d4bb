// Package devices implements the device registration wizard and the smart
// landing that routes users by how many devices they own.
package devices

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/clearskynet/clearsky/go/types"
)

// Step is a page of the registration wizard
type Step string

const (
	StepWallet    Step = "wallet"
	StepDevice    Step = "device"
	StepLocation  Step = "location"
	StepReview    Step = "review"
	StepSubmitted Step = "submitted"
)

var steps = []Step{StepWallet, StepDevice, StepLocation, StepReview, StepSubmitted}

var (
	ErrWrongInput    = errors.New("input does not belong to the current step")
	ErrNoPrevious    = errors.New("no previous step")
	ErrNotReviewing  = errors.New("registration can only be submitted from the review step")
	ErrAlreadyClosed = errors.New("registration already submitted")
)

// Registrar submits a completed registration
type Registrar interface {
	RegisterDevice(ctx context.Context, reg types.DeviceRegistration) (*types.Device, error)
}

// WalletInput is entered on the wallet step
type WalletInput struct {
	Owner string `json:"ownerAddress" validate:"required,eth_addr"`
}

// DeviceInput is entered on the device step
type DeviceInput struct {
	Name         string `json:"name" validate:"required,max=64"`
	Model        string `json:"model" validate:"required,max=64"`
	SerialNumber string `json:"serialNumber" validate:"required,alphanum,min=6,max=32"`
}

// ValidationError lists the invalid fields of a step
type ValidationError struct {
	Step   Step
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+e.Fields[name])
	}
	return fmt.Sprintf("invalid %s step: %s", e.Step, strings.Join(parts, ", "))
}

// Wizard walks a user through registering one device. It is not safe for
// concurrent use.
type Wizard struct {
	step      Step
	reg       types.DeviceRegistration
	device    *types.Device
	registrar Registrar
	validate  *validator.Validate
}

// NewWizard starts a wizard at the wallet step
func NewWizard(registrar Registrar) *Wizard {
	return &Wizard{
		step:      StepWallet,
		registrar: registrar,
		validate:  validator.New(),
	}
}

// Step returns the current step
func (w *Wizard) Step() Step { return w.step }

// Registration returns the data collected so far
func (w *Wizard) Registration() types.DeviceRegistration { return w.reg }

// Device returns the registered device once submitted
func (w *Wizard) Device() *types.Device { return w.device }

// Next validates the input of the current step, stores it and advances
func (w *Wizard) Next(input interface{}) error {
	switch w.step {
	case StepWallet:
		in, ok := input.(WalletInput)
		if !ok {
			return fmt.Errorf("%w: %s expects WalletInput, got %T", ErrWrongInput, w.step, input)
		}
		if err := w.check(in); err != nil {
			return err
		}
		w.reg.Owner = in.Owner

	case StepDevice:
		in, ok := input.(DeviceInput)
		if !ok {
			return fmt.Errorf("%w: %s expects DeviceInput, got %T", ErrWrongInput, w.step, input)
		}
		in.Name = strings.TrimSpace(in.Name)
		in.SerialNumber = strings.ToUpper(strings.TrimSpace(in.SerialNumber))
		if err := w.check(in); err != nil {
			return err
		}
		w.reg.Name, w.reg.Model, w.reg.SerialNumber = in.Name, in.Model, in.SerialNumber

	case StepLocation:
		in, ok := input.(types.Location)
		if !ok {
			return fmt.Errorf("%w: %s expects Location, got %T", ErrWrongInput, w.step, input)
		}
		if err := w.check(in); err != nil {
			return err
		}
		w.reg.Location = in

	case StepReview:
		return ErrNotReviewing
	default:
		return ErrAlreadyClosed
	}

	w.advance(1)
	return nil
}

// Back returns to the previous step keeping everything entered
func (w *Wizard) Back() error {
	switch w.step {
	case StepWallet:
		return ErrNoPrevious
	case StepSubmitted:
		return ErrAlreadyClosed
	}
	w.advance(-1)
	return nil
}

// Submit validates the whole registration and sends it to the registrar
func (w *Wizard) Submit(ctx context.Context) (*types.Device, error) {
	if w.step == StepSubmitted {
		return nil, ErrAlreadyClosed
	}
	if w.step != StepReview {
		return nil, ErrNotReviewing
	}
	if err := w.check(w.reg); err != nil {
		return nil, err
	}

	device, err := w.registrar.RegisterDevice(ctx, w.reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register device: %w", err)
	}
	w.device = device
	w.step = StepSubmitted
	return device, nil
}

func (w *Wizard) advance(delta int) {
	for i, s := range steps {
		if s == w.step {
			w.step = steps[i+delta]
			return
		}
	}
}

func (w *Wizard) check(v interface{}) error {
	err := w.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	verr := &ValidationError{Step: w.step, Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		verr.Fields[fe.Field()] = describe(fe)
	}
	return verr
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "eth_addr":
		return "must be a wallet address"
	case "alphanum":
		return "must contain only letters and digits"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	}
	return "is invalid"
}
