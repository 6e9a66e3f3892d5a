package release

import (
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

// operationContext is the opaque payload attached to a release history row.
// Written once for re-audit, never read back by the engine.
type operationContext struct {
	IsEmergency   bool   `msgpack:"isEmergency"`
	BaseReleaseID int64  `msgpack:"baseReleaseId,omitempty"`
	Rules         string `msgpack:"rules,omitempty"`
	SourceBranch  string `msgpack:"sourceBranch,omitempty"`
}

func (c operationContext) encode() []byte {
	raw, err := msgpack.Marshal(c)
	if err != nil {
		// History context is advisory; a bad encode must not fail the release.
		log.Warn().Err(err).Msg("Failed to encode release history context")
		return nil
	}
	return raw
}
