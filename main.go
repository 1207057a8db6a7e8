package main

import "chat-gateway/cmd"

func main() {
	cmd.Execute()
}
