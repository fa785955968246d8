package actors

import (
	"encoding/json"

	"github.com/aibtcdev/edge-proxy/internal/fetcher"
)

// passthrough shapes an upstream body for the success envelope: JSON
// bodies pass through verbatim, anything else is carried as a string.
// Non-2xx results keep the upstream's own status and body visible so
// callers can see exactly what the upstream said.
func passthrough(res *fetcher.Result) any {
	if json.Valid(res.Body) {
		return json.RawMessage(res.Body)
	}
	return string(res.Body)
}
