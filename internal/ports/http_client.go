package ports

import "net/http"

// HTTPClient is the part of *http.Client the backend uploader needs. Tests
// substitute a recorder or an httptest server client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
