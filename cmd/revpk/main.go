// Package main provides the revpk command-line tool for packing and
// unpacking VPK game-content archives.
package main

import (
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/goopsie/revpk/pkg/codec"
	"github.com/goopsie/revpk/pkg/pack"
	"github.com/goopsie/revpk/pkg/unpack"
	"github.com/goopsie/revpk/pkg/vpk"
)

const usageText = `usage:
  revpk pack <locale> <context> <level> [workspace=ship] [buildPath=vpk] [numThreads=-1] [level=uber]
  revpk unpack <dirFile> [outPath=ship] [sanitize=0]
  revpk packmulti <context> <level> [workspace] [buildPath] [numThreads] [level]
  revpk unpackmulti <anyDirFile> [outPath] [sanitize]
  revpk packdeltacommon <context> [workspace] [buildPath] [numThreads] [level]
  revpk ls <dirFile>
`

func main() {
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})

	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Print(usageText)
		return
	}
	if err := run(args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// argOr returns the positional argument at index i, or def when absent.
func argOr(args []string, i int, def string) string {
	if i < len(args) && args[i] != "" {
		return args[i]
	}
	return def
}

// packOptions builds pack options from the trailing positional
// arguments shared by the pack modes.
func packOptions(args []string, from int) (pack.Options, error) {
	threads, err := strconv.Atoi(argOr(args, from+2, "-1"))
	if err != nil {
		return pack.Options{}, fmt.Errorf("invalid thread count: %w", err)
	}
	cfg, err := codec.ParseLevel(argOr(args, from+3, "uber"))
	if err != nil {
		return pack.Options{}, err
	}
	return pack.Options{
		Workspace: argOr(args, from, "ship"),
		BuildPath: argOr(args, from+1, "vpk"),
		Threads:   threads,
		Codec:     cfg,
	}, nil
}

// unpackTarget applies the sanitize flag: a data file path is rewritten
// into the matching directory file path; a directory file path passes
// through unchanged.
func unpackTarget(args []string, pathIdx, sanitizeIdx int) string {
	path := args[pathIdx]
	if argOr(args, sanitizeIdx, "0") == "1" {
		path = vpk.Sanitize(path)
	}
	return path
}

func run(command string, args []string) error {
	switch command {
	case "pack":
		if len(args) < 3 {
			fmt.Print(usageText)
			return nil
		}
		opts, err := packOptions(args, 3)
		if err != nil {
			return err
		}
		summary, err := pack.Pack(args[0], args[1], args[2], opts)
		if err != nil {
			return err
		}
		printPackSummary(summary)
		return nil

	case "packmulti":
		if len(args) < 2 {
			fmt.Print(usageText)
			return nil
		}
		opts, err := packOptions(args, 2)
		if err != nil {
			return err
		}
		summary, err := pack.PackMulti(args[0], args[1], opts)
		if err != nil {
			return err
		}
		printPackSummary(summary)
		return nil

	case "packdeltacommon":
		if len(args) < 1 {
			fmt.Print(usageText)
			return nil
		}
		opts, err := packOptions(args, 1)
		if err != nil {
			return err
		}
		summary, err := pack.PackDeltaCommon(args[0], opts)
		if err != nil {
			return err
		}
		printPackSummary(summary)
		return nil

	case "unpack":
		if len(args) < 1 {
			fmt.Print(usageText)
			return nil
		}
		summary, err := unpack.Unpack(unpackTarget(args, 0, 2), argOr(args, 1, "ship"), -1)
		if err != nil {
			return err
		}
		printUnpackSummary(summary)
		return nil

	case "unpackmulti":
		if len(args) < 1 {
			fmt.Print(usageText)
			return nil
		}
		summary, err := unpack.UnpackMulti(unpackTarget(args, 0, 2), argOr(args, 1, "ship"), -1)
		if err != nil {
			return err
		}
		printUnpackSummary(summary)
		return nil

	case "ls":
		if len(args) < 1 {
			fmt.Print(usageText)
			return nil
		}
		return list(args[0])

	case "help", "-h", "--help":
		fmt.Print(usageText)
		return nil

	default:
		fmt.Print(usageText)
		return fmt.Errorf("unknown command %q", command)
	}
}

func list(dirFile string) error {
	d, err := vpk.ReadFile(dirFile)
	if err != nil {
		return err
	}
	var total uint64
	for i := range d.Entries {
		e := &d.Entries[i]
		size := e.ReconstructedSize()
		total += size
		fmt.Printf("%12d  %s\n", size, e.Path)
	}
	fmt.Printf("%d entries, %d bytes\n", len(d.Entries), total)
	return nil
}

func printPackSummary(s *pack.Summary) {
	fmt.Printf("Packed %d files (%d skipped) in %v\n", s.Files, s.Skipped, s.Elapsed)
	fmt.Printf("Deduplicated %d of %d chunks, %d bytes saved, %d bytes written\n",
		s.Stats.ReusedChunks, s.Stats.Chunks, s.Stats.ReusedBytes, s.Stats.WrittenBytes)
}

func printUnpackSummary(s *unpack.Summary) {
	fmt.Printf("Extracted %d files (%d failed) in %v\n", s.Files, s.Failed, s.Elapsed)
}
