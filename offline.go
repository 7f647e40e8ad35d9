package offcache

import (
	"net/http"
)

// OfflineMessage is the error text of the synthesized offline response.
const OfflineMessage = "Offline - data will sync when connection is restored"

var offlineBody = []byte(`{"error":"` + OfflineMessage + `","offline":true}`)

// OfflineResponse is returned for API requests when neither the network nor
// the api cache can answer. Every offline answer of the engine has this shape.
func OfflineResponse() *Response {
	return &Response{
		Status:     http.StatusServiceUnavailable,
		StatusText: http.StatusText(http.StatusServiceUnavailable),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       append([]byte(nil), offlineBody...),
	}
}
