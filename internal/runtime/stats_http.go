package runtime

import (
	"net/http"
	"strings"

	"github.com/cosmic-horizons/eventbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/cosmic-horizons/eventbus/internal/runtime/logging"
)

// StatsPath is where the Bus serves consumer statistics.
const StatsPath = "/api/consumers"

// StatsHandler serves stats.Snapshot as JSON. Cross-origin reads are allowed
// for the listed origins; "*" allows any.
func StatsHandler(stats *ConsumerStats, allowedOrigins []string, logger loggingpkg.ServiceLogger) http.Handler {
	logger = loggingpkg.OrNop(logger)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := allowedCORSOrigin(allowedOrigins, r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case http.MethodGet, http.MethodHead:
		default:
			w.Header().Set("Allow", "GET, HEAD, OPTIONS")
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := jsoncodec.Marshal(stats.Snapshot())
		if err != nil {
			logger.Error("Failed to encode consumer stats", err, nil)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
}

func allowedCORSOrigin(allowed []string, requestOrigin string) string {
	for _, origin := range allowed {
		if origin == "*" {
			return "*"
		}
		if requestOrigin != "" && strings.EqualFold(origin, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
