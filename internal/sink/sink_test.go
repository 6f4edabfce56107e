package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/simstats/internal/reconstruct"
	"github.com/banshee-data/simstats/internal/stats"
	"github.com/banshee-data/simstats/internal/telemetry"
)

func stepOutput(sim string, n int) *reconstruct.StepOutput {
	rec := stats.NewRecord()
	rec.CarNumber = 1
	return &reconstruct.StepOutput{
		SimID:       sim,
		Step:        n,
		CorrectFlag: 1,
		Vehicles:    []*telemetry.Vehicle{{VehicleID: 7, RoadID: 5, Speed: 2}},
		Phases:      []*telemetry.Phase{},
		Stats:       rec,
	}
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	j := NewJSONLines(&buf)
	require.NoError(t, j.Emit(context.Background(), stepOutput("a", 0)))
	require.NoError(t, j.Emit(context.Background(), stepOutput("a", 1)))
	require.NoError(t, j.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, 2, j.Lines())

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
	assert.Equal(t, "a", got["simId"])
	assert.EqualValues(t, 1, got["step"])
	assert.Contains(t, got, "infoStat")
	assert.Len(t, got["vehicles"], 1)
	assert.Equal(t, []any{}, got["phases"])
}

func TestJSONLinesConcurrent(t *testing.T) {
	var buf bytes.Buffer
	j := NewJSONLines(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; n < 25; n++ {
				j.Emit(context.Background(), stepOutput(string(rune('a'+i)), n))
			}
		}(i)
	}
	wg.Wait()

	scan := bufio.NewScanner(&buf)
	count := 0
	for scan.Scan() {
		var out reconstruct.StepOutput
		if err := json.Unmarshal(scan.Bytes(), &out); err != nil {
			t.Fatalf("line %d: %v", count, err)
		}
		count++
	}
	assert.Equal(t, 200, count)
}

func TestCreateJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steps.jsonl")
	j, err := CreateJSONLines(path)
	require.NoError(t, err)
	require.NoError(t, j.Emit(context.Background(), stepOutput("a", 3)))
	require.NoError(t, j.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"step":3`)

	_, err = CreateJSONLines(filepath.Join(t.TempDir(), "missing", "steps.jsonl"))
	assert.Error(t, err)
}

func TestMulti(t *testing.T) {
	errBoom := errors.New("boom")
	var calls []string
	record := func(name string, err error) reconstruct.Sink {
		return reconstruct.SinkFunc(func(context.Context, *reconstruct.StepOutput) error {
			calls = append(calls, name)
			return err
		})
	}

	m := NewMulti().
		Add("first", record("first", nil)).
		Add("broken", record("broken", errBoom)).
		Add("last", record("last", nil))
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []string{"first", "broken", "last"}, m.Names())

	err := m.Emit(context.Background(), stepOutput("a", 0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBoom))
	assert.Contains(t, err.Error(), "broken: boom")
	assert.Equal(t, []string{"first", "broken", "last"}, calls)

	assert.NoError(t, NewMulti().Emit(context.Background(), stepOutput("a", 0)))
}
