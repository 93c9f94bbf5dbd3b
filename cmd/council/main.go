// Command council runs LLM Council deliberations from the terminal or as an
// HTTP service.
package main

func main() {
	Execute()
}
