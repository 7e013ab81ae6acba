// Command supervisorctl is a thin admin CLI talking to a running
// supervisor's HTTP API: push a deployment, tear one down, invoke a
// function, or inspect request history. Structure (custom flag.FlagSet with
// a Usage override, nested switch dispatch on args[0]/args[1], a command
// struct wrapping the HTTP client) mirrors anthdm-ffaas's own admin CLI.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func printUsage() {
	fmt.Print(`
Usage: supervisorctl [OPTIONS] COMMAND

Administer a running supervisor over its HTTP API.

Options:
--addr			Supervisor base URL [--addr http://localhost:8080]

Commands:
health			Check supervisor liveness
deploy			Push a deployment descriptor [deploy path/to/descriptor.json]
undeploy		Remove a deployment [undeploy <deploymentID>]
invoke			Call a module function [invoke <deploymentID> <module> <function> [key=value ...]]
history			List or show request-history entries [history [id]]
help			Show usage

`)
	os.Exit(0)
}

var addr string

func main() {
	flagset := flag.NewFlagSet("supervisorctl", flag.ExitOnError)
	flagset.Usage = printUsage
	flagset.StringVar(&addr, "addr", "http://localhost:8080", "")
	flagset.Parse(os.Args[1:])

	args := flagset.Args()
	if len(args) == 0 {
		printUsage()
	}

	command := command{client: &http.Client{Timeout: 30 * time.Second}}

	switch args[0] {
	case "health":
		command.handleHealth()
	case "deploy":
		command.handleDeploy(args[1:])
	case "undeploy":
		command.handleUndeploy(args[1:])
	case "invoke":
		command.handleInvoke(args[1:])
	case "history":
		command.handleHistory(args[1:])
	case "help":
		printUsage()
	default:
		printUsage()
	}
}

type command struct {
	client *http.Client
}

func (c command) handleHealth() {
	resp, err := c.client.Get(addr + "/health")
	if err != nil {
		printErrorAndExit(err)
	}
	printResponse(resp)
}

func (c command) handleDeploy(args []string) {
	if len(args) != 1 {
		printUsage()
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		printErrorAndExit(err)
	}
	resp, err := c.client.Post(addr+"/deploy", "application/json", bytes.NewReader(b))
	if err != nil {
		printErrorAndExit(err)
	}
	printResponse(resp)
}

func (c command) handleUndeploy(args []string) {
	if len(args) != 1 {
		printUsage()
	}
	req, err := http.NewRequest(http.MethodDelete, addr+"/deploy/"+args[0], nil)
	if err != nil {
		printErrorAndExit(err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		printErrorAndExit(err)
	}
	printResponse(resp)
}

func (c command) handleInvoke(args []string) {
	if len(args) < 3 {
		printUsage()
	}
	deploymentID, moduleName, functionName := args[0], args[1], args[2]

	url := fmt.Sprintf("%s/%s/modules/%s/%s", addr, deploymentID, moduleName, functionName)
	if len(args) > 3 {
		url += "?"
		for i, kv := range args[3:] {
			if i > 0 {
				url += "&"
			}
			url += kv
		}
	}

	resp, err := c.client.Get(url)
	if err != nil {
		printErrorAndExit(err)
	}
	printResponse(resp)
}

func (c command) handleHistory(args []string) {
	url := addr + "/request-history"
	if len(args) == 1 {
		url += "/" + args[0]
	}
	resp, err := c.client.Get(url)
	if err != nil {
		printErrorAndExit(err)
	}
	printResponse(resp)
}

func printResponse(resp *http.Response) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		printErrorAndExit(err)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "    ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(body))
	}

	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func printErrorAndExit(err error) {
	fmt.Println()
	fmt.Println("Error:")
	fmt.Println(err)
	fmt.Println()
	os.Exit(1)
}
