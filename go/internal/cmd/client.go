package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/mcdev12/pokerclock/go/clients"
)

var (
	serverURL     string
	clientTimeout time.Duration
)

// addClientFlags registers the flags of commands that talk to a running node.
func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "node base URL")
	cmd.Flags().DurationVar(&clientTimeout, "timeout", 10*time.Second, "request timeout")
}

func newNodeClient() *clients.NodeClient {
	c := clients.NewNodeClient(serverURL)
	c.SetTimeout(clientTimeout)
	return c
}
