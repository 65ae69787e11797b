/*
Package cmd provides the commands for the kiteupload binary.

Each command lives in its own file. The global flags (verbosity, output format) are defined on the root
command and exposed through the package level variables. Every flag of the upload command can also be
set in $HOME/.kiteupload.yaml or through the environment, using the flag name as the key.

Usage

	kiteupload upload backup.tar.gz 'https://storage.example.com/backups/{name}' -H 'X-Upload-Id: {id}'
	tar cz ./data | kiteupload upload - https://storage.example.com/stream --proxy https=proxy:3128

*/
package cmd
