package fit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicyDecisions(t *testing.T) {
	p := DefaultPolicy()
	for _, a := range []Anomaly{AnomalyRedefinition, AnomalyUnknownBaseType, AnomalyInvalidGlobal, AnomalyUnsupportedArch} {
		assert.True(t, a.Definition(), a.String())
		assert.False(t, p.Discards(a), "%s aborts unless lenient", a)
		assert.True(t, LenientPolicy().Discards(a), "%s discarded when lenient", a)
	}
	for _, a := range []Anomaly{AnomalyOversizedMessage, AnomalyImplausibleRecord, AnomalyMisplacedFileID} {
		assert.False(t, a.Definition(), a.String())
		assert.True(t, p.Discards(a), "%s discarded by default", a)
	}
	assert.False(t, p.Discards(AnomalyNone))
	assert.False(t, p.CheckRedefinition)
}

func TestPolicyValidGlobal(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.validGlobal(20))
	assert.True(t, p.validGlobal(0xFF10))
	assert.False(t, p.validGlobal(0xFFFF))

	p.MaxGlobal = 400
	assert.False(t, p.validGlobal(401))
	assert.True(t, p.validGlobal(0xFF00))
}
