// Command devstatic serves development build output over HTTP with
// conditional and byte-range request support.
package main

func main() {
	Execute()
}
