package adaptation

import (
	"fmt"

	"github.com/fentz26/guardian/internal/models"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Change is an author-supplied description of one filesystem change. After
// holds the new content for create and modify, and the destination path for
// move.
type Change struct {
	Type        string        `json:"type" validate:"required"`
	Target      string        `json:"target" validate:"required"`
	Action      models.Action `json:"action" validate:"required,oneof=create modify delete move"`
	Before      string        `json:"before,omitempty"`
	After       string        `json:"after,omitempty" validate:"required_if=Action move"`
	Diff        string        `json:"diff,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	TriggeredBy string        `json:"triggered_by,omitempty"`
	// Reversible defaults to true when unset.
	Reversible *bool `json:"reversible,omitempty"`
}

// Validate checks the change's struct tags.
func (c Change) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChange, err)
	}
	return nil
}
