package model

import "errors"

var (
	// ErrPatternMismatch reports a required text pattern missing from a message.
	ErrPatternMismatch = errors.New("pattern mismatch")
	// ErrNoTrackingURL reports an Amazon message without a shipment tracking link.
	ErrNoTrackingURL = errors.New("no tracking url found")
	// ErrNoTrackingID reports a tracking page without a tracking id anchor.
	ErrNoTrackingID = errors.New("no tracking id found")
	// ErrUnsupportedCarrier reports a carrier without an extractor.
	ErrUnsupportedCarrier = errors.New("unsupported carrier")
	// ErrTransport reports a failed mailbox or remote page fetch.
	ErrTransport = errors.New("transport failure")
)
