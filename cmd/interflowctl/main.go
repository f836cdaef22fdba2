// Command interflowctl is a client for the orchestration API.
package main

func main() {
	Execute()
}
