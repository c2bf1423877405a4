// Command dctl-cli is the operator tool for adiskd's control tree: it
// dials the unix socket and issues one read_leaf/write_leaf/list_nodes/
// list_leafs request per invocation, the same way the teacher's ocx-cli
// issues one HTTP request per invocation against the gateway.
package main

import (
	"fmt"
	"os"

	"github.com/dvlop/opendiamond/internal/dctl"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	socket := os.Getenv("ADISKD_DCTL_SOCKET")
	if socket == "" {
		socket = "/var/run/adiskd/dctl.sock"
	}

	switch os.Args[1] {
	case "read":
		cmdRead(socket, os.Args[2:])
	case "write":
		cmdWrite(socket, os.Args[2:])
	case "ls":
		cmdList(socket, os.Args[2:])
	case "version":
		fmt.Printf("dctl-cli v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`dctl-cli v` + version + `

Usage: dctl-cli <command> [args]

Commands:
  read <path>           Read a leaf's value
  write <path> <value>  Write a leaf's value (string leaves only)
  ls <path>             List a node's children (leafs and sub-nodes)
  version               Print version
  help                  Show this help

Environment:
  ADISKD_DCTL_SOCKET   Control-tree unix socket (default: /var/run/adiskd/dctl.sock)

Examples:
  dctl-cli ls pipeline
  dctl-cli read pipeline/pend_count
  dctl-cli read search/status`)
}

func dial(socket string) *dctl.Client {
	client, err := dctl.Dial(socket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dctl-cli: connect %s: %v\n", socket, err)
		os.Exit(1)
	}
	return client
}

func cmdRead(socket string, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: dctl-cli read <path>")
		os.Exit(1)
	}
	client := dial(socket)
	defer client.Close()

	typ, data, err := client.ReadLeaf(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "dctl-cli: read %s: %v\n", args[0], err)
		os.Exit(1)
	}
	fmt.Println(formatValue(typ, data))
}

func cmdWrite(socket string, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: dctl-cli write <path> <value>")
		os.Exit(1)
	}
	client := dial(socket)
	defer client.Close()

	if err := client.WriteLeaf(args[0], dctl.EncodeString(args[1])); err != nil {
		fmt.Fprintf(os.Stderr, "dctl-cli: write %s: %v\n", args[0], err)
		os.Exit(1)
	}
}

func cmdList(socket string, args []string) {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	client := dial(socket)
	defer client.Close()

	nodes, err := client.ListNodes(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dctl-cli: ls %s: %v\n", path, err)
		os.Exit(1)
	}
	for _, n := range nodes {
		fmt.Printf("%s/\n", n.Name)
	}

	leafs, err := client.ListLeafs(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dctl-cli: ls %s: %v\n", path, err)
		os.Exit(1)
	}
	for _, l := range leafs {
		fmt.Printf("%s\t(%s)\n", l.Name, l.Type)
	}
}

// formatValue decodes data per typ for display; dctl-cli shows the decoded
// value rather than raw bytes so an operator reading search/status or
// cache/hit_rate doesn't have to know the wire encoding.
func formatValue(typ dctl.LeafType, data []byte) string {
	switch typ {
	case dctl.TypeUint32:
		v, err := dctl.DecodeUint32(data)
		if err != nil {
			return fmt.Sprintf("<decode error: %v>", err)
		}
		return fmt.Sprintf("%d", v)
	case dctl.TypeUint64:
		v, err := dctl.DecodeUint64(data)
		if err != nil {
			return fmt.Sprintf("<decode error: %v>", err)
		}
		return fmt.Sprintf("%d", v)
	case dctl.TypeInt32:
		v, err := dctl.DecodeInt32(data)
		if err != nil {
			return fmt.Sprintf("<decode error: %v>", err)
		}
		return fmt.Sprintf("%d", v)
	case dctl.TypeFloat64:
		v, err := dctl.DecodeFloat64(data)
		if err != nil {
			return fmt.Sprintf("<decode error: %v>", err)
		}
		return fmt.Sprintf("%f", v)
	case dctl.TypeString:
		return dctl.DecodeString(data)
	default:
		return fmt.Sprintf("% x", data)
	}
}
