package outbox

import (
	"encoding/json"
	"fmt"

	"github.com/blogfed/apsrv/internal/as"
)

func marshalActivity(a as.Activity) ([]byte, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("outbox: marshal activity %q: %w", a.ID, err)
	}
	return b, nil
}
