// Package app wires the dev server together: configuration, logging,
// telemetry, the assembled request pipeline and the HTTP server hosting it.
//
// # Initialization Flow
//
// NewApplication performs these steps in order:
//
//	1. Load configuration from defaults, the config file and the environment
//	2. Initialize logging and OpenTelemetry
//	3. Create the build integration over the output directory
//	4. Assemble the request pipeline from the default factories
//	5. Mount the pipeline behind a chi router
//	6. Create the HTTP server
//
// # Upgrade Requests
//
// Requests asking for a protocol upgrade never reach the pipeline. The
// connection is taken over and handed to every upgrade subscriber in turn.
// A connection no subscriber touched is answered with 404 and closed.
//
// # Usage
//
//	application, err := app.NewApplication(app.Options{ConfigPath: path})
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// # Graceful Shutdown
//
// Run stops on SIGINT or SIGTERM. Stop drains in-flight requests, closes the
// build integration exactly once and flushes telemetry.
//
// # Error Handling
//
// All initialization errors are returned to the caller. The app does not
// call os.Exit, leaving that to the main function.
package app
