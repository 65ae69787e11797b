package main

import "github.com/assetnote/kiteupload/cmd/kiteupload/cmd"

func main() {
	cmd.Execute()
}
