// Package device is the catalogue of powersensor plugs and sensors the
// daemon has materialized.
//
// A device becomes an entity here when the dispatcher asks for it on the
// bus (materialize-plug, materialize-sensor). The Materializer writes the
// entity and answers with the matching ack topic, which is the signal the
// dispatcher waits for before it opens a connection to a plug.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                          device                              │
//	│                                                              │
//	│  ┌──────────────────┐   ┌──────────────────┐   ┌──────────┐  │
//	│  │   Materializer   │──▶│     Registry     │──▶│Repository│  │
//	│  │ (materializer.go)│   │  (registry.go)   │   │ (SQLite) │  │
//	│  │                  │   │                  │   └──────────┘  │
//	│  │ • bus requests   │   │ • cache by id    │                 │
//	│  │ • acks           │   │ • index by mac   │                 │
//	│  └──────────────────┘   └──────────────────┘                 │
//	└──────────────────────────────────────────────────────────────┘
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	m := device.NewMaterializer(registry, eventBus, log)
//	m.Subscribe(eventBus)
//
// # Thread Safety
//
// Registry and Materializer are safe for concurrent use. The Materializer
// publishes acks after the registry lock is released, so an ack handler
// may call back into the registry.
package device
