package http

import (
	"encoding/json"
	"io"
	"net/http"

	"k8s.io/klog/v2"
	"k8s.io/utils/strings/slices"

	"github.com/siderolabs/talos-mcp-server/pkg/config"
)

// WellKnownEndpoints are served without authentication and proxied to the
// configured authorization server.
var WellKnownEndpoints = []string{
	"/.well-known/oauth-authorization-server",
	"/.well-known/oauth-protected-resource",
	"/.well-known/openid-configuration",
}

// WellKnownHandler proxies OAuth discovery endpoints to the configured
// authorization server. The upstream JSON payload is decoded so the
// configured overrides (dynamic client registration, scopes) can be
// applied before re-encoding it for the client.
//
// Client request headers are not forwarded upstream, the proxy issues a
// clean request of its own.
func WellKnownHandler(staticConfig *config.StaticConfig, httpClient *http.Client) http.Handler {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !slices.Contains(WellKnownEndpoints, r.URL.EscapedPath()) {
			http.NotFound(w, r)
			return
		}

		writeCorsHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if staticConfig.AuthorizationURL == "" {
			http.Error(w, "Authorization URL is not configured", http.StatusNotFound)
			return
		}

		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, staticConfig.AuthorizationURL+r.URL.EscapedPath(), nil)
		if err != nil {
			http.Error(w, "Failed to create request: "+err.Error(), http.StatusInternalServerError)
			return
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			http.Error(w, "Failed to perform request: "+err.Error(), http.StatusInternalServerError)
			return
		}
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			http.Error(w, "Failed to read response body: "+err.Error(), http.StatusInternalServerError)
			return
		}

		var payload map[string]interface{}
		if err := json.Unmarshal(body, &payload); err != nil {
			klog.V(1).Infof("Failed to decode authorization server metadata: %v", err)
			http.Error(w, "Invalid authorization server metadata", http.StatusInternalServerError)
			return
		}
		if staticConfig.DisableDynamicClientRegistration {
			delete(payload, "registration_endpoint")
			payload["require_request_uri_registration"] = false
		}
		if len(staticConfig.OAuthScopes) > 0 {
			payload["scopes_supported"] = staticConfig.OAuthScopes
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			http.Error(w, "Failed to encode authorization server metadata: "+err.Error(), http.StatusInternalServerError)
			return
		}

		for key, values := range resp.Header {
			if key == "Content-Length" {
				continue
			}
			for _, value := range values {
				w.Header().Add(key, value)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(encoded)
	})
}

func writeCorsHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}
