package engine_test

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/motogarage/garage/internal/offline/connectivity"
	"github.com/motogarage/garage/internal/offline/engine"
	"github.com/motogarage/garage/internal/offline/kv"
	"github.com/motogarage/garage/internal/offline/queue"
	"github.com/motogarage/garage/internal/offline/remote/remotetest"
	"github.com/motogarage/garage/internal/offline/schema"
	"github.com/motogarage/garage/internal/offline/store"
)

// This example records two edits while offline and replays them once the
// backend is reachable again.
func ExampleEngine_FullSync() {
	logger := log.New(io.Discard, "", 0)
	mem := kv.NewMemory()
	backend := remotetest.New()
	net := connectivity.NewSwitch(false)

	q := queue.New(mem, logger)
	st := store.New(mem, q, store.Config{Logger: logger})
	eng := engine.New(q, st, backend, net, engine.Config{Logger: logger, State: mem})
	defer eng.Close()

	bike, _ := st.Create(schema.KindBike, map[string]any{"make": "Ducati"})
	st.Update(schema.KindBike, bike.ID, map[string]any{"model": "Monster"})
	fmt.Println("queued:", q.Len())

	net.Set(true)
	report, err := eng.FullSync(context.Background())
	if err != nil {
		log.Fatal(err)
	}

	rec, _ := backend.Find(schema.KindBike, st.Resolve(bike.ID))
	fmt.Println("applied:", report.Applied)
	fmt.Println("queued:", q.Len())
	fmt.Println("server id:", rec.ID, rec.Fields["make"], rec.Fields["model"])
	// Output:
	// queued: 2
	// applied: 2
	// queued: 0
	// server id: bike-1 Ducati Monster
}
