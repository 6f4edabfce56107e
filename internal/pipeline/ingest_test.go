package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/simstats/internal/broker"
	"github.com/banshee-data/simstats/internal/ingest"
)

// Sentinels without a stream hint arrive on one ordered feed after every
// data record of the step. The worker reads the two topics in any order,
// so the step must still complete with all of its phases.
func TestWorkerCompletesStepsFromUnhintedFeed(t *testing.T) {
	const phases = 50

	for i := range 50 {
		b := broker.New()
		r := ingest.NewRouter(b)

		route := func(line string) {
			t.Helper()
			require.NoError(t, r.Route([]byte(line)))
		}
		for step := range 2 {
			route(fmt.Sprintf(`{"simId":"s1","stepNum":%d,"correctFlag":1,"vehicle":{"vehicleID":1,"roadID":5,"speed":2,"xPosition":10,"yPosition":-5}}`, step))
			for p := range phases {
				route(fmt.Sprintf(`{"simId":"s1","stepNum":%d,"correctFlag":1,"phase":{"phaseId":%d,"color":1}}`, step, p))
			}
			route(fmt.Sprintf(`{"simId":"s1","stepNum":%d,"finished":true}`, step))
			route(fmt.Sprintf(`{"simId":"s1","stepNum":%d,"finished":true}`, step))
		}
		b.Close()

		sink := &collector{}
		w, err := NewWorker(WorkerConfig{SimID: "s1", Sink: sink, LoadMap: straightRoad}, b)
		require.NoError(t, err)
		require.NoError(t, w.Run(context.Background()))

		require.Len(t, sink.outs, 2, "iteration %d", i)
		for _, out := range sink.outs {
			assert.Len(t, out.Vehicles, 1, "iteration %d step %d", i, out.Step)
			assert.Len(t, out.Phases, phases, "iteration %d step %d", i, out.Step)
		}
		assert.Zero(t, w.Stats().Pending)
		assert.Zero(t, r.Held())
	}
}
