package oracle

import "context"

// Client answers controller/vehicle compatibility queries.
//
// Implementations must resolve within the deadline carried by ctx; the flow
// engine treats a returned error as "automatic verification unavailable" and
// degrades to a manual prompt, so implementations should prefer returning an
// Unknown verdict over an error when they can.
type Client interface {
	Query(ctx context.Context, vehicleModel, controllerModel, controllerBrand string) (*Verdict, error)
}
