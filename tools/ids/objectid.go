package ids

import (
	"bytes"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var validate = validator.New()

// Valid reports whether s is a well-formed chat or message id (24-hex ObjectID).
func Valid(s string) bool {
	return validate.Var(s, "required,mongodb") == nil
}

// NewMessageID returns a fresh server-assigned id. ObjectIDs lead with a
// seconds timestamp followed by a per-process counter, so ids generated by
// one hub sort in creation order.
func NewMessageID() string {
	return primitive.NewObjectID().Hex()
}

// After reports whether id a orders strictly after id b. Malformed ids never
// order after anything.
func After(a, b string) bool {
	oa, err := primitive.ObjectIDFromHex(a)
	if err != nil {
		return false
	}
	ob, err := primitive.ObjectIDFromHex(b)
	if err != nil {
		return true
	}
	return bytes.Compare(oa[:], ob[:]) > 0
}
