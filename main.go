package main

import (
	"github.com/NathanMulbrook/netfuzz/cmd"
	"github.com/NathanMulbrook/netfuzz/internal/config"
)

func main() {
	config.LoadConfig()
	cmd.Execute()
}
