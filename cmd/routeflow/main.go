package main

import (
	"fmt"
	"os"
)

const usage = `usage: routeflow <command> [flags]

commands:
  serve                      serve stored routes over HTTP
  graph <routeId>            render a route graph (mermaid, ascii, png, svg)
  import <bundle.json>...    store routes, graphs and integrations from bundle files
  executions                 list recorded executions
  invalidate <kind> [id]     publish a cache invalidation (route, routes, integration, all)
  secret set|list|rm         manage vault secrets such as integration DSNs
  install                    write ~/.routeflow/settings.json
  version                    print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(args)
	case "graph":
		err = runGraph(args)
	case "import":
		err = runImport(args)
	case "executions":
		err = runExecutions(args)
	case "invalidate":
		err = runInvalidate(args)
	case "secret":
		err = runSecret(args)
	case "install":
		err = runInstall(args)
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
