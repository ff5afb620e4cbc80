package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maremma-monitoring/maremma/internal/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "maremma.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"frontend_url": "https://maremma.example.com",
		"oidc_issuer": "https://idp.example.com",
		"oidc_client_id": "maremma",
		"cert_file": "cert.pem",
		"cert_key": "key.pem",
		"max_history_entries_per_check": 100
	}`)

	doc, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "maremma.sqlite", doc.DatabaseFile)
	assert.Equal(t, "127.0.0.1", doc.ListenAddress)
	assert.Equal(t, 8888, doc.ListenPort)
	assert.Equal(t, 10, doc.MaxConcurrentChecks)
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, `{"frontend_url": "https://maremma.example.com"}`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadDefaultsHostCheckToPing(t *testing.T) {
	path := writeConfig(t, `{
		"frontend_url": "https://maremma.example.com",
		"oidc_issuer": "https://idp.example.com",
		"oidc_client_id": "maremma",
		"cert_file": "cert.pem",
		"cert_key": "key.pem",
		"max_history_entries_per_check": 100,
		"hosts": {
			"web1": {"hostname": "web1.example.com"}
		}
	}`)

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, types.HostCheckPing, doc.Hosts["web1"].Check)
}

func TestLoadExtractsServiceExtraFields(t *testing.T) {
	path := writeConfig(t, `{
		"frontend_url": "https://maremma.example.com",
		"oidc_issuer": "https://idp.example.com",
		"oidc_client_id": "maremma",
		"cert_file": "cert.pem",
		"cert_key": "key.pem",
		"max_history_entries_per_check": 100,
		"services": {
			"disk-space": {
				"service_type": "cli",
				"cron_schedule": "*/5 * * * *",
				"command": "df -h /"
			}
		}
	}`)

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "df -h /", doc.Services["disk-space"].Extra["command"])
}

func TestLoadRejectsUnknownHostCheckKind(t *testing.T) {
	path := writeConfig(t, `{
		"frontend_url": "https://maremma.example.com",
		"oidc_issuer": "https://idp.example.com",
		"oidc_client_id": "maremma",
		"cert_file": "cert.pem",
		"cert_key": "key.pem",
		"max_history_entries_per_check": 100,
		"hosts": {
			"web1": {"hostname": "web1.example.com", "check": "telepathy"}
		}
	}`)

	_, err := Load(path)
	assert.Error(t, err)
}
