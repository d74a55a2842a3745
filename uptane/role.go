package uptane

import "github.com/uplo-tech/errors"

// ErrBadThreshold is returned by AddMeta when the supplied RoleMeta sets a
// threshold below 1, which would make any signature set (including the
// empty one) trivially satisfy verification.
var ErrBadThreshold = errors.New("role threshold must be at least 1")

// RoleMeta is the trust anchor for one Uptane role: the set of keys
// authorized to sign it, how many distinct signatures are required, and the
// lowest version number the verifier will still accept (monotonically
// raised as newer signed metadata is verified).
type RoleMeta struct {
	KeyIDs    map[string]struct{} `json:"keyids"`
	Threshold uint64              `json:"threshold"`
	Version   uint64              `json:"version"`
}

// NewRoleMeta constructs a RoleMeta from a key id slice, failing the same
// way AddMeta would if threshold is invalid.
func NewRoleMeta(keyIDs []string, threshold uint64, version uint64) (RoleMeta, error) {
	if threshold < 1 {
		return RoleMeta{}, ErrBadThreshold
	}
	ids := make(map[string]struct{}, len(keyIDs))
	for _, id := range keyIDs {
		ids[id] = struct{}{}
	}
	return RoleMeta{KeyIDs: ids, Threshold: threshold, Version: version}, nil
}
