package main

import "appupdate/cmd/appupdate/cmd"

func main() {
	cmd.Execute()
}
