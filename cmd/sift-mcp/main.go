// Package main provides the sift-mcp binary, the MCP server for AI agents.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/siftlabs/sift/pkg/catalog"
	smcp "github.com/siftlabs/sift/pkg/mcp"
)

var version = "dev"

func main() {
	log := logrus.New()
	log.SetOutput(os.Stderr) // stdout carries the MCP stdio transport
	log.SetLevel(logrus.WarnLevel)

	registry, err := catalog.NewRegistry(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	s := smcp.NewServer(version, registry, log)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
