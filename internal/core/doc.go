// Package core runs imports. It is shared by the HTTP server and the CLI
// and has no transport dependencies.
//
// # Profiles
//
// A profile knows how to import one kind of file. Profiles register at init
// time with [Register]; each [ProfileDefinition] carries a [BuildFunc] that
// creates a fresh [Plan] for every run:
//
//	core.Register(core.ProfileDefinition{
//	    Info:  core.ProfileInfo{Key: "contacts", Required: []string{"email"}},
//	    Build: contacts.Build,
//	})
//
// # Runs
//
// [Service.StartImport] parses the upload, builds the plan and commits it in
// a goroutine guarded by a [RunLimiter]. Progress is fanned out to
// subscribers of [Service.SubscribeProgress]; [Service.GetRunResult] waits
// for the [RunResult]. Finished runs are kept for a TTL and written to the
// run history when one is configured. [Service.RunSync] does the same in
// the calling goroutine for the CLI, and [Service.Preview] stops before
// anything is committed.
//
// # Errors
//
// [MapError] turns technical errors into a [UserMessage] with a stable code
// for API responses and CLI output.
package core
