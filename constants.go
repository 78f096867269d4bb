package clearsky

import "time"

// Version constants
const (
	// Version is the SDK version
	Version = "1.2.0"

	// DefaultPollInterval is the fixed delay between transaction receipt lookups
	DefaultPollInterval = 2 * time.Second

	// NativeDecimals is the number of decimals of the native IP token
	NativeDecimals = 18

	// ReceiptStatusSuccess is the receipt status of a successful transaction
	ReceiptStatusSuccess = 1
)
