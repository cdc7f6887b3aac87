package patient

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("patient not found")
	ErrForbidden = errors.New("action not permitted for this user")
)

const maxAge = 130

// Patient is a person registered by a field worker.
type Patient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Age       *int      `db:"age" json:"age,omitempty"`
	Sex       *string   `db:"sex" json:"sex,omitempty"`
	Village   *string   `db:"village" json:"village,omitempty"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	ASHAID    string    `db:"asha_id" json:"asha_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
