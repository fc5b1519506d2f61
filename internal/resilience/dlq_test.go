package resilience

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDLQ(t *testing.T) {
	q := NewDLQ()
	assert.Zero(t, q.Len())

	q.Add("osrm", "8854a93221fffff", errors.New("no route found"))
	q.Add("osrm", "8854a93223fffff", NewTransientError(errors.New("timeout"), 504))

	require.Equal(t, 2, q.Len())
	entries := q.Entries()
	assert.Equal(t, "8854a93221fffff", entries[0].Key)
	assert.Equal(t, "permanent", entries[0].ErrorType)
	assert.Equal(t, "transient", entries[1].ErrorType)
	assert.False(t, entries[0].FailedAt.IsZero())
}

func TestDLQ_ConcurrentAdd(t *testing.T) {
	q := NewDLQ()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Add("osrm", "cell", errors.New("boom"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, q.Len())
}

func TestDLQ_WriteFile(t *testing.T) {
	q := NewDLQ()
	q.Add("osrm", "a", errors.New("one"))
	q.Add("osrm", "b", errors.New("two"))

	path := filepath.Join(t.TempDir(), "dlq.jsonl")
	require.NoError(t, q.WriteFile(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e DLQEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		lines++
	}
	assert.Equal(t, 2, lines)
}
