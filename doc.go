/*
Package kiteupload streams request bodies to http servers over pooled, proxy aware connections.

There are no exports in the root package. The streaming primitive is http.UploadStream in pkg/http,
and its failures are reported with the taxonomy in pkg/errors.

CLI tools part of `cmd/` include:
	- kiteupload - uploads a file or stdin with a single streamed request
	- testServer - an upload sink that acknowledges every upload with a json receipt, used for manual testing
	  and benchmarking

*/
package kiteupload
