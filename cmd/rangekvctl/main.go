// Package main provides the rangekvctl CLI tool for working with rangekv
// databases.
//
// Usage:
//
//	rangekvctl --db=<path> <command> [args]
//
// Commands:
//
//	scan                    Scan all visible key-value pairs
//	get <key>               Get the value for a key
//	put <key> <value>       Put a key-value pair
//	delete <key>            Delete a key
//	deleterange <start> <end>  Delete every key in [start, end)
//	flush                   Flush the memtable to a run
//	compact                 Compact all runs to the bottommost level
//	info                    Print database information
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rangekv/rangekv"
)

var (
	dbPath    = flag.String("db", "", "Path to the database (required)")
	hexOutput = flag.Bool("hex", false, "Output keys and values in hex format")
	limit     = flag.Int("limit", 0, "Limit number of scanned entries (0 = unlimited)")
	fromKey   = flag.String("from", "", "Start key for scan")
	help      = flag.Bool("help", false, "Print help")
)

func main() {
	flag.Parse()

	if *help || len(flag.Args()) == 0 {
		printUsage()
		return
	}
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --db flag is required")
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	db, err := rangekv.Open(*dbPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer db.Close()

	switch command {
	case "scan":
		err = cmdScan(db)
	case "get":
		err = cmdGet(db, args)
	case "put":
		err = cmdPut(db, args)
	case "delete":
		err = cmdDelete(db, args)
	case "deleterange":
		err = cmdDeleteRange(db, args)
	case "flush":
		err = db.Flush()
	case "compact":
		err = db.Compact(context.Background())
	case "info":
		err = cmdInfo()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("rangekvctl - rangekv database tool")
	fmt.Println()
	fmt.Println("Usage: rangekvctl --db=<path> <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  scan                       Scan all visible key-value pairs")
	fmt.Println("  get <key>                  Get the value for a key")
	fmt.Println("  put <key> <value>          Put a key-value pair")
	fmt.Println("  delete <key>               Delete a key")
	fmt.Println("  deleterange <start> <end>  Delete every key in [start, end)")
	fmt.Println("  flush                      Flush the memtable to a run")
	fmt.Println("  compact                    Compact all runs")
	fmt.Println("  info                       Print database information")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}

func formatOutput(data []byte) string {
	if *hexOutput {
		return hex.EncodeToString(data)
	}
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}

func cmdScan(db *rangekv.DB) error {
	it, err := db.NewIterator(nil)
	if err != nil {
		return err
	}
	count := 0
	if *fromKey != "" {
		it.SeekGE([]byte(*fromKey))
	} else {
		it.First()
	}
	for ; it.Valid(); it.Next() {
		fmt.Printf("%s => %s\n", formatOutput(it.Key()), formatOutput(it.Value()))
		count++
		if *limit > 0 && count >= *limit {
			break
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	fmt.Printf("--- %d entries\n", count)
	return nil
}

func cmdGet(db *rangekv.DB, args []string) error {
	if len(args) != 1 {
		return errors.New("get requires exactly one argument: <key>")
	}
	value, err := db.Get(nil, []byte(args[0]))
	if errors.Is(err, rangekv.ErrNotFound) {
		fmt.Println("(not found)")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println(formatOutput(value))
	return nil
}

func cmdPut(db *rangekv.DB, args []string) error {
	if len(args) != 2 {
		return errors.New("put requires exactly two arguments: <key> <value>")
	}
	if err := db.Put([]byte(args[0]), []byte(args[1])); err != nil {
		return err
	}
	return db.Flush()
}

func cmdDelete(db *rangekv.DB, args []string) error {
	if len(args) != 1 {
		return errors.New("delete requires exactly one argument: <key>")
	}
	if err := db.Delete([]byte(args[0])); err != nil {
		return err
	}
	return db.Flush()
}

func cmdDeleteRange(db *rangekv.DB, args []string) error {
	if len(args) != 2 {
		return errors.New("deleterange requires exactly two arguments: <start> <end>")
	}
	if err := db.DeleteRange([]byte(args[0]), []byte(args[1])); err != nil {
		return err
	}
	return db.Flush()
}

// cmdInfo lists the run files on disk. The engine keeps no manifest, so the
// directory listing is the full picture.
func cmdInfo() error {
	entries, err := os.ReadDir(*dbPath)
	if err != nil {
		return err
	}
	var runs int
	var total int64
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".run" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		fmt.Printf("%s  %d bytes\n", e.Name(), info.Size())
		runs++
		total += info.Size()
	}
	fmt.Printf("--- %d runs, %d bytes\n", runs, total)
	return nil
}
