package api

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeOp(version uint64) Operation {
	return Operation{
		UserID:    "user-1",
		Changes:   []json.RawMessage{json.RawMessage(fmt.Sprintf(`{"v":%d}`, version))},
		Version:   version,
		Timestamp: time.Now().UTC(),
	}
}

func TestOperationLogWindow(t *testing.T) {
	log := NewOperationLog(3)

	for v := uint64(1); v <= 5; v++ {
		log.Append(makeOp(v))
	}

	require.Equal(t, 3, log.Len())
	recent := log.Recent()
	assert.Equal(t, uint64(3), recent[0].Version)
	assert.Equal(t, uint64(4), recent[1].Version)
	assert.Equal(t, uint64(5), recent[2].Version)
}

func TestOperationLogOrdering(t *testing.T) {
	log := NewOperationLog(100)

	for v := uint64(1); v <= 50; v++ {
		log.Append(makeOp(v))
	}

	recent := log.Recent()
	require.Len(t, recent, 50)
	for i := 1; i < len(recent); i++ {
		assert.Greater(t, recent[i].Version, recent[i-1].Version)
	}
}

func TestOperationLogRecentIsACopy(t *testing.T) {
	log := NewOperationLog(10)
	log.Append(makeOp(1))

	recent := log.Recent()
	recent[0].Version = 99

	assert.Equal(t, uint64(1), log.Recent()[0].Version)
}

func TestOperationLogZeroWindow(t *testing.T) {
	// A nonsensical window degrades to retaining one operation
	log := NewOperationLog(0)
	log.Append(makeOp(1))
	log.Append(makeOp(2))

	require.Equal(t, 1, log.Len())
	assert.Equal(t, uint64(2), log.Recent()[0].Version)
}
