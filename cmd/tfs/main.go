// Command tfs creates, inspects and edits tfs filesystem images.
//
//	tfs -image disk.img mkfs -size 33554432 -label scratch
//	tfs -image disk.img mkdir /docs
//	echo hello | tfs -image disk.img write /docs/hello.txt
//	tfs -image disk.img cat /docs/hello.txt
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

type command struct {
	usage string
	run   func(image string, args []string) error
}

var commands = map[string]command{
	"mkfs":     {"[-size bytes] [-block-size bytes] [-inodes n] [-data-blocks n] [-label name] [-uuid id]", runMkfs},
	"info":     {"", runInfo},
	"ls":       {"[path]", runLs},
	"stat":     {"path", runStat},
	"mkdir":    {"[-mode perm] path", runMkdir},
	"rmdir":    {"path", runRmdir},
	"touch":    {"[-mode perm] path", runTouch},
	"rm":       {"path", runRm},
	"write":    {"[-offset n] [-data text] path", runWrite},
	"cat":      {"[-offset n] [-length n] path", runCat},
	"truncate": {"path size", runTruncate},
	"chmod":    {"perm path", runChmod},
	"compact":  {"path", runCompact},
	"snapshot": {"[-compressor none|gzip|lzma|xz|lz4|zstd] output", runSnapshot},
	"restore":  {"input", runRestore},
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-image path] [-create] [-v] command [args]\n\nCommands:\n", os.Args[0])
	for _, name := range sortedCommands() {
		fmt.Fprintf(flag.CommandLine.Output(), "  %-9s %s\n", name, commands[name].usage)
	}
	fmt.Fprintln(flag.CommandLine.Output(), "\nFlags:")
	flag.PrintDefaults()
}

func main() {
	image := flag.String("image", "tfs.img", "the filesystem image or block device")
	verbose := flag.Bool("v", false, "verbose output")
	debug := flag.Bool("debug", false, "debug output, including every allocation")
	flag.BoolVar(&createMissing, "create", false, "create a default image when -image does not exist")
	flag.Usage = usage
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	log.SetOutput(os.Stderr)
	switch {
	case *debug:
		log.SetLevel(log.DebugLevel)
	case *verbose:
		log.SetLevel(log.InfoLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	name := flag.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}
	if err := cmd.run(*image, flag.Args()[1:]); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(os.Stderr, "usage: %s %s %s\n", os.Args[0], name, cmd.usage)
			os.Exit(2)
		}
		log.WithField("image", *image).Fatalf("%s: %v", name, err)
	}
}

// usageError reports wrong arguments to a command
type usageError struct{}

func (usageError) Error() string { return "bad usage" }

func readInput(data string, dataSet bool) ([]byte, error) {
	if dataSet {
		return []byte(data), nil
	}
	return io.ReadAll(os.Stdin)
}
