package models

// PackageRegisteredEvent is the queue payload published when a package is registered.
// TypeID and SessionID are optional.
type PackageRegisteredEvent struct {
	Name            string  `json:"name"`
	WeightKg        float64 `json:"weight_kg"`
	ContentValueUSD float64 `json:"content_value_usd"`
	TypeID          *int    `json:"type_id,omitempty"`
	SessionID       *string `json:"session_id,omitempty"`
}
