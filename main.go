package main

import "github.com/voxsocial/notifygw/cmd"

func main() {
	cmd.Execute()
}
