package models

// Interaction is a user action reported by a browser client (click, input,
// navigation, scroll and similar).
type Interaction struct {
	ID     string   `json:"id"`
	TS     int64    `json:"ts"`
	Type   string   `json:"type"`
	Target string   `json:"target,omitempty"`
	Value  string   `json:"value,omitempty"`
	URL    string   `json:"url,omitempty"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
}

// Clone returns a copy with its own coordinate pointers.
func (i Interaction) Clone() Interaction {
	if i.X != nil {
		x := *i.X
		i.X = &x
	}
	if i.Y != nil {
		y := *i.Y
		i.Y = &y
	}
	return i
}
