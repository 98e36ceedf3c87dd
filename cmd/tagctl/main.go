// Command tagctl is a command line client for the stream-tagger HTTP API.
package main

func main() {
	Execute()
}
