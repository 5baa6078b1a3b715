package entities

// CaptureDevice is an enumerated audio input device
type CaptureDevice struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}
