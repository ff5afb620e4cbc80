package main

// configDocumentSchema describes the shape `export-config-schema` prints:
// a hand-maintained field listing rather than a reflected JSON Schema,
// since config.Document's validator tags already double as the source of
// truth and a generated schema would just restate them less readably.
func configDocumentSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"hosts": map[string]any{
				"type": "object",
				"additionalProperties": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"hostname":    map[string]any{"type": "string"},
						"check":       map[string]any{"type": "string", "enum": []string{"none", "ping", "ssh", "kubernetes"}},
						"host_groups": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"config":      map[string]any{"type": "object"},
						"tags":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
				},
			},
			"services": map[string]any{
				"type": "object",
				"additionalProperties": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"service_type":  map[string]any{"type": "string", "enum": []string{"cli", "ssh", "ping", "http", "tls", "kubernetes"}},
						"description":   map[string]any{"type": "string"},
						"host_groups":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"cron_schedule": map[string]any{"type": "string"},
						"tags":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required": []string{"service_type", "cron_schedule"},
				},
			},
			"frontend_url":                  map[string]any{"type": "string"},
			"oidc_issuer":                   map[string]any{"type": "string"},
			"oidc_client_id":                map[string]any{"type": "string"},
			"oidc_client_secret":            map[string]any{"type": "string"},
			"cert_file":                     map[string]any{"type": "string"},
			"cert_key":                      map[string]any{"type": "string"},
			"max_history_entries_per_check": map[string]any{"type": "integer", "default": 25000},
			"database_file":                 map[string]any{"type": "string", "default": "maremma.sqlite"},
			"listen_address":                map[string]any{"type": "string", "default": "127.0.0.1"},
			"listen_port":                   map[string]any{"type": "integer", "default": 8888},
			"max_concurrent_checks":         map[string]any{"type": "integer", "default": 10},
			"local_services":                map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"static_path":                   map[string]any{"type": "string"},
		},
		"required": []string{"frontend_url", "oidc_issuer", "oidc_client_id", "cert_file", "cert_key", "max_history_entries_per_check"},
	}
}
