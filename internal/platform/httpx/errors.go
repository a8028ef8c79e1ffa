package httpx

import (
	"errors"
	"net/http"
)

// RespondMapped maps a domain error to a problem response using the given
// sentinel-to-status table. Unmatched errors become an opaque 500.
func RespondMapped(w http.ResponseWriter, err error, statuses map[error]int) {
	for sentinel, status := range statuses {
		if errors.Is(err, sentinel) {
			Problem(w, status, http.StatusText(status), err.Error())
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
