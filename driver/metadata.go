package driver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/uplo-tech/errors"

	"github.com/uplo-tech/atomicupdate/uptane"
)

// serviceDir turns a service base URL into a filesystem-safe directory
// component, since spec.md §4.8 persists metadata under
// <metadata_path>/<service>/<role>.json and a bare URL is not a valid path
// segment.
func serviceDir(service string) string {
	d := strings.NewReplacer("://", "_", "/", "_", ":", "_").Replace(service)
	return d
}

// GetMetadata implements spec.md §4.8's get_metadata: HTTP GET
// <service>/<role>.json, verify it against role, and - if VerifySigned
// reports a new version - persist it as <metadataPath>/<service>/<role>.json
// and a versioned copy <version>.<role>.json.
func (c *Client) GetMetadata(v *uptane.Verifier, service string, role uptane.RoleName, metadataPath string) (uptane.Verified, uptane.TufSigned, error) {
	url := strings.TrimRight(service, "/") + "/" + string(role) + ".json"
	body, err := c.get(url)
	if err != nil {
		return uptane.Verified{}, uptane.TufSigned{}, errors.AddContext(err, "could not fetch "+string(role)+" metadata")
	}

	var signed uptane.TufSigned
	if err := json.Unmarshal(body, &signed); err != nil {
		return uptane.Verified{}, uptane.TufSigned{}, errors.AddContext(err, "could not decode "+string(role)+" metadata")
	}

	verified, err := v.VerifySigned(role, signed)
	if err != nil {
		return uptane.Verified{}, uptane.TufSigned{}, errors.AddContext(err, "could not verify "+string(role)+" metadata")
	}

	if verified.IsNew() && metadataPath != "" {
		if err := persistMetadata(metadataPath, service, role, verified.NewVer, body); err != nil {
			return verified, signed, errors.AddContext(err, "could not persist "+string(role)+" metadata")
		}
	}
	return verified, signed, nil
}

func persistMetadata(metadataPath, service string, role uptane.RoleName, version uint64, body []byte) error {
	dir := filepath.Join(metadataPath, serviceDir(service))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.AddContext(err, "could not create metadata directory")
	}
	latest := filepath.Join(dir, string(role)+".json")
	if err := os.WriteFile(latest, body, 0600); err != nil {
		return errors.AddContext(err, "could not write latest metadata copy")
	}
	versioned := filepath.Join(dir, strconv.FormatUint(version, 10)+"."+string(role)+".json")
	if err := os.WriteFile(versioned, body, 0600); err != nil {
		return errors.AddContext(err, "could not write versioned metadata copy")
	}
	return nil
}
