// Command agentworker runs the agent session orchestrator: a
// long-running edge worker that ingests Tracker webhooks, routes them
// to repositories, and drives child Assistant processes through
// multi-phase session procedures.
package main

import (
	"github.com/nextlevelbuilder/agentworker/cmd"
)

func main() {
	cmd.Execute()
}
