package accountmanager

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tinode/jsonco"

	"github.com/mozilla-mobile/account-manager-go/accountmanager/fxaclient"
)

// HandleConfig names the construction parameters for the account handle
// (spec.md §6): contentURL, clientID, redirectURI.
type HandleConfig struct {
	ContentURL  string `json:"content_url"`
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
}

// deviceConfigJSON is the wire shape of DeviceConfig; Type and
// Capabilities are strings/string-lists in the config file and are
// converted to the fxaclient types at load time. Values outside the known
// constants are accepted as-is.
type deviceConfigJSON struct {
	Name              string   `json:"name"`
	Type              string   `json:"type"`
	Capabilities      []string `json:"capabilities"`
	PreferredLanguage string   `json:"preferred_language"`
}

// FileConfig is the on-disk shape of a Manager's construction config,
// decoded with comments stripped the way the teacher's push handlers and
// auth/token package decode their own jsonconf blobs.
type FileConfig struct {
	Handle HandleConfig      `json:"handle"`
	Device deviceConfigJSON `json:"device"`
}

// LoadConfig reads a JSON-with-comments config file from path.
func LoadConfig(path string) (HandleConfig, DeviceConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return HandleConfig{}, DeviceConfig{}, fmt.Errorf("accountmanager: open config: %w", err)
	}
	defer f.Close()

	var fc FileConfig
	if err := json.NewDecoder(jsonco.New(f)).Decode(&fc); err != nil {
		return HandleConfig{}, DeviceConfig{}, fmt.Errorf("accountmanager: parse config: %w", err)
	}

	dc := DeviceConfig{
		Name:              fc.Device.Name,
		Type:              fxaclient.DeviceType(fc.Device.Type),
		PreferredLanguage: fc.Device.PreferredLanguage,
	}
	for _, c := range fc.Device.Capabilities {
		dc.Capabilities = append(dc.Capabilities, fxaclient.Capability(c))
	}
	if err := dc.Validate(); err != nil {
		return HandleConfig{}, DeviceConfig{}, err
	}
	return fc.Handle, dc, nil
}
