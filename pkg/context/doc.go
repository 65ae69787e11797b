/*
Package context wraps the native go/context package with a process wide context that is cancelled
on the first interrupt.

Passing it to an upload lets Ctrl-C abort the transfer between two chunks, releasing the connection,
instead of killing the process halfway through a request.

	import "github.com/assetnote/kiteupload/pkg/context"

	...

	res, err := upload.Upload(context.Context(), input, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to upload")
	}
*/
package context
