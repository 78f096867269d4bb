package types

import (
	"encoding/json"
	"fmt"

	clearsky "github.com/clearskynet/clearsky/go"
)

// DetectKind extracts the listing kind from JSON bytes
func DetectKind(data []byte) (clearsky.ItemKind, error) {
	var detector struct {
		Kind clearsky.ItemKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &detector); err != nil {
		return "", fmt.Errorf("failed to detect kind: %w", err)
	}
	if !detector.Kind.IsValid() {
		return "", fmt.Errorf("invalid kind: %q", detector.Kind)
	}
	return detector.Kind, nil
}

// DecodeItem unmarshals a listing into a *RefinedReport or *Derivative,
// depending on its kind, and returns the item with its shared Listing part
func DecodeItem(data []byte) (interface{}, *Listing, error) {
	kind, err := DetectKind(data)
	if err != nil {
		return nil, nil, err
	}

	switch kind {
	case clearsky.KindReport:
		var report RefinedReport
		if err := json.Unmarshal(data, &report); err != nil {
			return nil, nil, fmt.Errorf("failed to parse report: %w", err)
		}
		return &report, &report.Listing, nil

	case clearsky.KindDerivative:
		var derivative Derivative
		if err := json.Unmarshal(data, &derivative); err != nil {
			return nil, nil, fmt.Errorf("failed to parse derivative: %w", err)
		}
		return &derivative, &derivative.Listing, nil

	default:
		return nil, nil, fmt.Errorf("unsupported kind: %s", kind)
	}
}

// ListingOf returns the Listing part of a decoded item
func ListingOf(item interface{}) (*Listing, error) {
	switch v := item.(type) {
	case *RefinedReport:
		return &v.Listing, nil
	case *Derivative:
		return &v.Listing, nil
	case RefinedReport:
		return &v.Listing, nil
	case Derivative:
		return &v.Listing, nil
	}
	return nil, fmt.Errorf("unsupported item type %T", item)
}
