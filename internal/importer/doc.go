// Package importer is the bulk-import engine: it takes parsed rows of
// candidate records, resolves references to auxiliary entities by name,
// commits primary and auxiliary entities in chunks and reports the outcome
// of every row.
//
// The package performs no I/O of its own. Every contact with a backend goes
// through injected functions ([CommitFunc], [FindFunc], [ShouldCreateFunc]),
// so the engine can be driven by an HTTP handler, a CLI or a test without
// modification.
//
// # Components
//
//   - [ImportModel]: one parsed primary row plus its status, errors and duplicates.
//   - [ImportContext]: per-handler run state (rows, imported rows, phase, data bag).
//   - [ImportProcess]: chunked commit with batch to per-item fallback and a circuit breaker.
//   - [SideHandler], [BeforeHandler], [AfterHandler], [AdditionalHandler]: name to id
//     resolution of auxiliary entities, creating missing ones on demand.
//   - [MainHandler]: commits primary rows (create and update partitions).
//   - [Orchestrator]: runs Before, Main and After handlers in that order.
//
// # Run Flow
//
//  1. Rows are wrapped with [NewImportModels] and handed to [Orchestrator.Prepare],
//     which lets every resolution handler look up the names referenced by each row.
//  2. [Orchestrator.Run] commits the Before handlers' pending entities, then each
//     main handler resolves references onto its rows and commits them, then After
//     handlers commit and pipe the created primary rows to their Additional handlers.
//  3. [Orchestrator.Summary] reports the phase of every step and the row outcomes.
//  4. [Orchestrator.Cleanup] resets every handler before a new input is prepared.
//
// # Failure Policy
//
// Row-scoped failures never escape as errors. A failed batch is retried one
// record at a time; a failed record carries its error on its result. In an
// [ImportProcess] the third failed record opens the circuit: every remaining
// record resolves to a null id without calling the backend and without an
// error. The main handler's commit path has no breaker.
//
// Only configuration errors and failures of a handler's own orchestration
// surface as errors. After and Additional handlers capture those into
// [PhaseError] instead of returning them.
//
// Nothing in this package runs concurrently. Chunks, rows and handlers are
// processed one after another, so handler state carries no locks.
package importer
