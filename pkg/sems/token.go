package sems

import (
	"encoding/base64"
	"encoding/json"

	"github.com/lgesmon/lgesmon/pkg/types"
)

// EncodeToken serializes the token to compact JSON and base64-encodes it for
// the portal's token request header. Deterministic for the same input.
func EncodeToken(t types.SessionToken) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
