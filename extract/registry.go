package extract

import (
	"context"
	"fmt"

	"github.com/dhcgn/parcelscan/body"
	"github.com/dhcgn/parcelscan/fetch"
	"github.com/dhcgn/parcelscan/model"
)

// Extractor pulls the delivery address and tracking id out of a message
// from one carrier.
type Extractor interface {
	Address(msg body.Message) (model.Address, error)
	TrackingID(ctx context.Context, msg body.Message) (string, error)
}

// Registry dispatches carriers to their extractors.
type Registry struct {
	extractors map[model.Carrier]Extractor
}

func NewRegistry() *Registry {
	return &Registry{extractors: make(map[model.Carrier]Extractor)}
}

// DefaultRegistry wires the carriers that have known notification formats.
// FedEx and USPS are classified but have no extractor.
func DefaultRegistry(fetcher fetch.Fetcher) *Registry {
	r := NewRegistry()
	r.Register(model.CarrierUPS, NewUPS())
	r.Register(model.CarrierAmazon, NewAmazon(fetcher))
	return r
}

func (r *Registry) Register(carrier model.Carrier, e Extractor) {
	r.extractors[carrier] = e
}

func (r *Registry) Lookup(carrier model.Carrier) (Extractor, error) {
	e, ok := r.extractors[carrier]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedCarrier, carrier)
	}
	return e, nil
}

// Result is what an extractor found in one message.
type Result struct {
	Address    model.Address
	TrackingID string
}

// Extract runs the extractor registered for carrier.
func (r *Registry) Extract(ctx context.Context, carrier model.Carrier, msg body.Message) (Result, error) {
	e, err := r.Lookup(carrier)
	if err != nil {
		return Result{}, err
	}

	addr, err := e.Address(msg)
	if err != nil {
		return Result{}, fmt.Errorf("%s address: %w", carrier, err)
	}
	id, err := e.TrackingID(ctx, msg)
	if err != nil {
		return Result{}, fmt.Errorf("%s tracking id: %w", carrier, err)
	}
	return Result{Address: addr, TrackingID: id}, nil
}
