package issues

import (
	"time"

	"github.com/pratico/magsub/internal/refs"
)

type Status string

const (
	StatusPlanned Status = "Planned"
	StatusSent    Status = "Sent"
)

type Issue struct {
	ID                 refs.Issue
	Title              string
	PublicationCode    string
	ExportDate         time.Time
	Status             Status
	AssociatedProducts []refs.Product
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
