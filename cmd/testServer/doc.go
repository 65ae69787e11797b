/*
Package testServer provides a fasthttp upload sink for manually testing and benchmarking kiteupload.

Every PUT or POST is acknowledged with 201 and a json receipt carrying the size and sha256 of the
received body. /slow/{ms} delays the receipt and /reject/* answers 413 and closes the connection.

The server is used for testing, and should not be used in a production environment.

Usage

	go run ./cmd/testServer -p 14000-14001
	kiteupload upload big.iso http://localhost:14000/isos/{name}

*/
package main
