/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/realtimebid/auctionserver/cmd"

func main() {
	cmd.Execute()
}
