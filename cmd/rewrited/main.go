// Command rewrited runs the rewrite gateway in front of a demo application.
package main

func main() {
	Execute()
}
