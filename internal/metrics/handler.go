package metrics

import (
	"encoding/json"
	"net/http"
)

// SnapshotHandler serves the lifecycle counters of c as a flat JSON object.
func SnapshotHandler(c Collector) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		//nolint:errchkjson // map[string]float64 always encodes
		_ = json.NewEncoder(w).Encode(c.Snapshot())
	})
}
