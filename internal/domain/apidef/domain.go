package apidef

import "time"

type Placement string

const (
	PlaceQuery Placement = "query"
	PlaceBody  Placement = "body"
)

type Parameter struct {
	ID          int64     `json:"id"`
	ApiID       int64     `json:"api_id"`
	Name        string    `json:"name"`
	Placement   Placement `json:"placement"`
	Required    bool      `json:"required"`
	Description string    `json:"description"`
}

type Definition struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	URI       string      `json:"uri"`
	Method    string      `json:"method"`
	Params    []Parameter `json:"params"`
	Tags      []string    `json:"tags"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
