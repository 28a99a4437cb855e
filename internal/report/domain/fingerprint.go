package domain

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/smallbiznis/destiny/internal/calendar"
	"github.com/smallbiznis/destiny/internal/engine"
	"golang.org/x/crypto/blake2b"
)

type fingerprintInput struct {
	UserID        string                        `json:"user_id"`
	System        engine.SystemType             `json:"system"`
	EngineVersion string                        `json:"engine_version"`
	Moment        calendar.CanonicalBirthMoment `json:"moment"`
	Options       engine.Options                `json:"options"`
}

// Fingerprint digests everything that determines a report's content.
// Map keys are sorted by encoding/json, so option order does not matter.
func Fingerprint(userID string, system engine.SystemType, engineVersion string, moment calendar.CanonicalBirthMoment, opts engine.Options) (string, error) {
	if opts == nil {
		opts = engine.Options{}
	}
	raw, err := json.Marshal(fingerprintInput{
		UserID:        userID,
		System:        system,
		EngineVersion: engineVersion,
		Moment:        moment,
		Options:       opts,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", engine.ErrInvalidOptions, err.Error())
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// PayloadDigest detects payload drift under an unchanged fingerprint. The
// payload is canonicalized first so JSON columns that reorder keys or strip
// whitespace still verify.
func PayloadDigest(payload []byte) string {
	sum := blake2b.Sum256(canonicalJSON(payload))
	return hex.EncodeToString(sum[:])
}

func canonicalJSON(raw []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}
