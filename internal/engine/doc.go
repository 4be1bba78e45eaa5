// Package engine defines the command surface of a download engine and an
// HTTP transport for it.
//
// The Gateway interface is what the controller talks to. It is implemented
// in-process by download.Engine and remotely by Client, which speaks to a
// Server wrapping any other Gateway:
//
//	eng, _ := download.NewEngine(opts, logger)
//	srv := engine.NewServer(eng, logger)
//	go srv.ListenAndServe(ctx, "127.0.0.1:52345")
//
//	gw := engine.NewClient("http://127.0.0.1:52345", 30*time.Second, logger)
//	downloads, err := gw.Downloads(ctx)
//
// # Push Signal
//
// Engines emit a payload-free "download-progress" signal whenever any
// download changes. Server forwards it as a server-sent event stream on
// GET /events and Client turns that stream back into a channel.
//
// # Errors
//
// ErrNotFound, ErrFileExists and ErrInvalid travel across the transport as
// HTTP 404, 409 and 400. Client wraps every remote failure in ErrRemote
// and restores the sentinel matching the status code.
package engine
