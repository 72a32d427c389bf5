/*
Copyright © 2024 Nokia
*/
package main

import "github.com/sdcio/workpool/client/cmd"

func main() {
	cmd.Execute()
}
