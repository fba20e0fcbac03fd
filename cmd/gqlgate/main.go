package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gqlgate/gqlgate/internal/otel"
	"github.com/gqlgate/gqlgate/internal/pipeline"
	"github.com/gqlgate/gqlgate/internal/schema"
	"github.com/gqlgate/gqlgate/internal/server"
	"github.com/gqlgate/gqlgate/internal/store"
	"github.com/gqlgate/gqlgate/internal/tracing"
)

const rootUsage = `gqlgate — GraphQL request-processing gateway

USAGE:
  gqlgate <command> [flags]

COMMANDS:
  serve            Run the HTTP GraphQL gateway
  check-schema     Parse and validate a schema SDL file
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -schema <file>                SDL schema file (required)
  -server.addr <addr>           HTTP listen address (default: :8080)
  -server.pretty                Pretty-print JSON responses
  -server.timeout <duration>    Per-request timeout, e.g. 10s (default: 10s)
  -server.max-body-bytes <n>    Request body size limit in bytes (default: 1048576)
  -server.cors-origin <origin>  Allowed CORS origin. Repeatable; * allows all
  -server.graphiql <bool>       Serve the in-browser IDE (default: true)
  -apq.size <n>                 Persisted-query cache capacity (default: 1024)
  -apq.ttl <duration>           Persisted-query entry TTL, 0 = no expiry
  -apq.disable                  Reject persisted-query requests
  -docstore.size <n>            Parsed-document cache capacity (default: 1024)
  -otel.endpoint <addr>         OTLP collector endpoint
  -otel.service <name>          OpenTelemetry service name (default: gqlgate)
  -debug                        Expose wrapped error causes in responses
`

const checkSchemaUsage = `check-schema FLAGS:
  -schema <file>  SDL schema file (required)
  (Exits non-zero when the schema does not load)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("gqlgate", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "check-schema":
		return cmdCheckSchema(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	case "check-schema":
		fmt.Print(checkSchemaUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func loadSchema(path string) (*schema.Schema, error) {
	if path == "" {
		return nil, fmt.Errorf("-schema is required")
	}
	sdl, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	sch, err := schema.Build(path, string(sdl))
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	return sch, nil
}

func cmdServe(args []string) error {
	schemaFile := ""
	addr := ":8080"
	pretty := false
	timeout := 10 * time.Second
	maxBody := int64(1 << 20)
	graphiql := true
	apqSize := 1024
	apqTTL := time.Duration(0)
	apqDisable := false
	docSize := 1024
	otelEndpoint := ""
	otelService := "gqlgate"
	debug := false
	var corsOrigins stringListFlag

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema", schemaFile, "SDL schema file")
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.Int64Var(&maxBody, "server.max-body-bytes", maxBody, "Request body size limit")
	fs.Var(&corsOrigins, "server.cors-origin", "Allowed CORS origin")
	fs.BoolVar(&graphiql, "server.graphiql", graphiql, "Serve the in-browser IDE")
	fs.IntVar(&apqSize, "apq.size", apqSize, "Persisted-query cache capacity")
	fs.DurationVar(&apqTTL, "apq.ttl", apqTTL, "Persisted-query entry TTL")
	fs.BoolVar(&apqDisable, "apq.disable", apqDisable, "Reject persisted-query requests")
	fs.IntVar(&docSize, "docstore.size", docSize, "Parsed-document cache capacity")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	fs.BoolVar(&debug, "debug", debug, "Expose wrapped error causes in responses")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}

	sch, err := loadSchema(schemaFile)
	if err != nil {
		if schemaFile == "" {
			fmt.Fprint(os.Stderr, serveUsage)
		}
		return err
	}

	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	docs, err := store.NewLRUDocumentStore(docSize)
	if err != nil {
		return fmt.Errorf("document store: %w", err)
	}

	popts := []pipeline.Option{
		pipeline.WithDocumentStore(docs),
		pipeline.WithPersistedQueries(pipeline.PersistedQueryOptions{
			Cache:    store.NewExpirableLRU(apqSize, apqTTL),
			TTL:      apqTTL,
			Disabled: apqDisable,
		}),
		pipeline.WithDebug(debug),
	}
	if otelEndpoint != "" {
		popts = append(popts, pipeline.WithPlugins(tracing.New()))
	}
	pipe, err := pipeline.New(sch, popts...)
	if err != nil {
		return fmt.Errorf("pipeline init: %w", err)
	}

	sopts := []server.Option{
		server.WithMaxBodyBytes(maxBody),
		server.WithGraphiQL(graphiql),
	}
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if timeout > 0 {
		sopts = append(sopts, server.WithTimeout(timeout))
	}
	if len(corsOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(corsOrigins...))
	}
	h, err := server.New(pipe, sopts...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)

	log.Printf("GraphQL server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func cmdCheckSchema(args []string) error {
	schemaFile := ""
	fs := flag.NewFlagSet("check-schema", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema", schemaFile, "SDL schema file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, checkSchemaUsage)
		return err
	}

	sch, err := loadSchema(schemaFile)
	if err != nil {
		if schemaFile == "" {
			fmt.Fprint(os.Stderr, checkSchemaUsage)
		}
		return err
	}
	fmt.Printf("schema OK: %d types\n", len(sch.AST().Types))
	return nil
}
