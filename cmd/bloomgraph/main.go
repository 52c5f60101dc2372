package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/aleksaelezovic/bloomgraph/internal/config"
	"github.com/aleksaelezovic/bloomgraph/internal/logging"
	"github.com/aleksaelezovic/bloomgraph/internal/storage"
	"github.com/aleksaelezovic/bloomgraph/internal/store"
	"github.com/aleksaelezovic/bloomgraph/pkg/rdf"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: bloomgraph <command> [args]")
		fmt.Println("Commands:")
		fmt.Println("  demo               - Run a demo with sample data")
		fmt.Println("  load <file.nt>     - Load an N-Triples file")
		fmt.Println("  find <s> <p> <o>   - Print matching triples (ANY or * for wildcards)")
		fmt.Println("  delete <s> <p> <o> - Delete matching triples")
		fmt.Println("  stats              - Print page statistics")
		fmt.Println("  dump [page]        - Dump one page, or every page")
		fmt.Println()
		fmt.Println("Settings are read from BLOOMGRAPH_* environment variables. The default")
		fmt.Println("memory backend starts empty on every run; set BLOOMGRAPH_BACKEND=badger or")
		fmt.Println("sqlite (and BLOOMGRAPH_PATH) to keep data between commands. The demo always")
		fmt.Println("runs in a scratch directory.")
		os.Exit(1)
	}

	cfg, err := config.FromEnv(config.Default())
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logging.Init(level, os.Stderr)

	command := os.Args[1]
	if cfg.Backend == config.BackendMemory && command != "demo" {
		fmt.Fprintln(os.Stderr, "note: the memory backend starts empty; set BLOOMGRAPH_BACKEND to keep data")
	}

	switch command {
	case "demo":
		demo, cleanup, err := demoConfig(cfg)
		if err != nil {
			log.Fatalf("Failed to prepare demo: %v", err)
		}
		defer cleanup()
		runDemo(demo)
	case "load":
		if len(os.Args) < 3 {
			fmt.Println("Usage: bloomgraph load <file.nt>")
			os.Exit(1)
		}
		runLoad(cfg, os.Args[2])
	case "find", "delete":
		if len(os.Args) < 5 {
			fmt.Printf("Usage: bloomgraph %s <s> <p> <o>\n", command)
			os.Exit(1)
		}
		pattern := parsePattern(os.Args[2:5])
		if command == "find" {
			runFind(cfg, pattern)
		} else {
			runDelete(cfg, pattern)
		}
	case "stats":
		runStats(cfg)
	case "dump":
		page := -1
		if len(os.Args) >= 3 {
			n, err := strconv.Atoi(os.Args[2])
			if err != nil {
				log.Fatalf("Invalid page number: %s", os.Args[2])
			}
			page = n
		}
		runDump(cfg, page)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
}

func open(cfg config.Config) *store.BloomGraph {
	g, err := store.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open graph: %v", err)
	}
	return g
}

// demoConfig gives the demo small pages, so it spills over several of them,
// and a scratch directory, so it never opens a store at the configured path.
func demoConfig(cfg config.Config) (config.Config, func(), error) {
	cfg.PageCapacity = 4
	if cfg.Backend == config.BackendMemory {
		return cfg, func() {}, nil
	}
	dir, err := os.MkdirTemp("", "bloomgraph-demo-")
	if err != nil {
		return cfg, nil, err
	}
	cfg.Path = dir
	return cfg, func() { os.RemoveAll(dir) }, nil
}

func runDemo(cfg config.Config) {
	fmt.Println("=== BloomGraph Demo ===")
	fmt.Println()

	fmt.Printf("Opening %s graph at: %s\n", cfg.Backend, cfg.Path)
	g := open(cfg)
	defer g.Close()

	alice := rdf.NewNamedNode("http://example.org/alice")
	bob := rdf.NewNamedNode("http://example.org/bob")
	carol := rdf.NewNamedNode("http://example.org/carol")

	knows := rdf.NewNamedNode("http://xmlns.com/foaf/0.1/knows")
	name := rdf.NewNamedNode("http://xmlns.com/foaf/0.1/name")
	age := rdf.NewNamedNode("http://xmlns.com/foaf/0.1/age")
	height := rdf.NewNamedNode("http://example.org/height")
	active := rdf.NewNamedNode("http://example.org/active")
	joined := rdf.NewNamedNode("http://example.org/joined")

	fmt.Println("Inserting sample data...")
	triples := []*rdf.Triple{
		rdf.NewTriple(alice, name, rdf.NewLiteral("Alice")),
		rdf.NewTriple(alice, age, rdf.NewIntegerLiteral(30)),
		rdf.NewTriple(alice, knows, bob),

		rdf.NewTriple(bob, name, rdf.NewLiteral("Bob")),
		rdf.NewTriple(bob, age, rdf.NewIntegerLiteral(25)),
		rdf.NewTriple(bob, knows, carol),

		rdf.NewTriple(carol, name, rdf.NewLiteral("Carol")),
		rdf.NewTriple(carol, age, rdf.NewIntegerLiteral(28)),

		rdf.NewTriple(alice, height, rdf.NewDoubleLiteral(1.68)),
		rdf.NewTriple(bob, active, rdf.NewBooleanLiteral(true)),
		rdf.NewTriple(carol, joined, rdf.NewDateTimeLiteral(time.Date(2021, 3, 14, 9, 30, 0, 0, time.UTC))),
	}
	for _, triple := range triples {
		if err := g.Add(triple); err != nil {
			log.Fatalf("Failed to insert triple: %v", err)
		}
		fmt.Printf("  + %s\n", triple)
	}

	pages, err := g.Backend().PageCount()
	if err != nil {
		log.Fatalf("Failed to count pages: %v", err)
	}
	fmt.Printf("\nTotal triples stored: %d in %d pages\n", g.Size(), pages)

	fmt.Println()
	fmt.Println("=== Querying Data ===")
	fmt.Println()

	for _, pattern := range []*rdf.Triple{
		rdf.NewPattern(nil, knows, nil),
		rdf.NewPattern(bob, nil, nil),
		rdf.NewPattern(nil, nil, rdf.NewIntegerLiteral(28)),
	} {
		fmt.Printf("Pattern: %s\n", pattern)
		printMatches(g, pattern)
		fmt.Println()
	}

	fmt.Println("Deleting everything Bob knows...")
	n, err := g.Delete(rdf.NewPattern(bob, knows, nil))
	if err != nil {
		log.Fatalf("Failed to delete: %v", err)
	}
	fmt.Printf("  - %d triples\n", n)
	fmt.Printf("Statistic for <bob> ANY ANY: %d\n", g.Statistic(bob, nil, nil))

	fmt.Println("\n=== Demo Complete ===")
}

func runLoad(cfg config.Config, path string) {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()

	g := open(cfg)
	defer g.Close()

	start := time.Now()
	reader := rdf.NewNTriplesReader(bufio.NewReader(f))
	n := 0
	for reader.Next() {
		if err := g.Add(reader.Triple()); err != nil {
			log.Fatalf("Failed to insert triple: %v", err)
		}
		n++
	}
	if err := reader.Err(); err != nil {
		log.Fatalf("Failed to parse %s: %v", path, err)
	}
	fmt.Printf("Loaded %d triples in %s (graph size %d)\n", n, time.Since(start).Round(time.Millisecond), g.Size())
}

func parsePattern(args []string) *rdf.Triple {
	terms := make([]rdf.Term, 3)
	for i, arg := range args {
		term, err := rdf.ParseTerm(arg)
		if err != nil {
			log.Fatalf("Invalid term %q: %v", arg, err)
		}
		terms[i] = term
	}
	return rdf.NewPattern(terms[0], terms[1], terms[2])
}

func runFind(cfg config.Config, pattern *rdf.Triple) {
	g := open(cfg)
	defer g.Close()

	n := printMatches(g, pattern)
	fmt.Printf("\nFound %d results\n", n)
}

func runDelete(cfg config.Config, pattern *rdf.Triple) {
	g := open(cfg)
	defer g.Close()

	n, err := g.Delete(pattern)
	if err != nil {
		log.Fatalf("Failed to delete: %v", err)
	}
	fmt.Printf("Deleted %d triples\n", n)
}

func printMatches(g *store.BloomGraph, pattern *rdf.Triple) int {
	it, err := g.Find(pattern)
	if err != nil {
		log.Fatalf("Failed to search: %v", err)
	}
	defer it.Close()

	n := 0
	for it.Next() {
		triple, err := it.Triple()
		if err != nil {
			log.Fatalf("Failed to read triple: %v", err)
		}
		fmt.Printf("  %s\n", triple)
		n++
	}
	if err := it.Err(); err != nil {
		log.Fatalf("Failed to search: %v", err)
	}
	return n
}

func runStats(cfg config.Config) {
	g := open(cfg)
	defer g.Close()

	b := g.Backend()
	pages, err := b.PageCount()
	if err != nil {
		log.Fatalf("Failed to count pages: %v", err)
	}
	fmt.Printf("Backend:  %s\n", cfg.Backend)
	fmt.Printf("Triples:  %d\n", g.Size())
	fmt.Printf("Pages:    %d\n", pages)
	fmt.Println()
	fmt.Printf("%6s %8s %8s %10s %8s\n", "page", "records", "deleted", "bytes", "density")
	origin := b.PageIndexOrigin()
	for n := origin; n < origin+pages; n++ {
		p, err := b.Page(n)
		if err != nil {
			log.Fatalf("Failed to read page %d: %v", n, err)
		}
		st, err := p.Statistics()
		if err != nil {
			log.Fatalf("Failed to read page %d: %v", n, err)
		}
		fmt.Printf("%6d %8d %8d %10d %8.3f\n", n, st.RecordCount, st.DeleteCount, st.DataSize, st.Density())
	}
}

func runDump(cfg config.Config, page int) {
	g := open(cfg)
	defer g.Close()

	b := g.Backend()
	if page >= 0 {
		if err := storage.DumpPage(b, page, os.Stdout); err != nil {
			log.Fatalf("Failed to dump page %d: %v", page, err)
		}
		return
	}

	pages, err := b.PageCount()
	if err != nil {
		log.Fatalf("Failed to count pages: %v", err)
	}
	origin := b.PageIndexOrigin()
	for n := origin; n < origin+pages; n++ {
		if err := storage.DumpPage(b, n, os.Stdout); err != nil {
			log.Fatalf("Failed to dump page %d: %v", n, err)
		}
	}
}
