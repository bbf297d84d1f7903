// Command ustar inspects USTAR archives without unpacking them.
//
// An archive is read from a local file (plain, gzip or zstd), from an HTTP
// URL with range requests, or from an image layer in an OCI layout or a
// remote registry:
//
//	ustar -f rootfs.tar ls etc
//	ustar -url https://example.com/rootfs.tar cat etc/os-release
//	ustar -oci-layout ./layout -ref v1 -layer 0 stat bin/sh
//	ustar -image registry.example.com/app:v1 digest usr/bin/app
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/pprof"
	"time"
)

type config struct {
	file            string
	url             string
	ociLayout       string
	ref             string
	image           string
	layer           int
	plainHTTP       bool
	index           bool
	indexFile       string
	maxSymlinkDepth int
	signedChecksums bool
	cacheDir        string
	cacheMem        bool
	cacheSizeMB     int64
	httpLatency     time.Duration
	httpBPS         int64
	cpuProfile      string
	verbose         bool
}

const usage = `usage: ustar [flags] <command> [args]

commands:
  check          validate every header and print the entry count
  ls [dir]       list the direct children of dir (default: top level)
  stat <path>    print the header of path
  cat <path>     write the payload of a regular file to stdout
  digest <path>  print the sha256 digest of a regular file
  index <out>    write a path index for the archive to out

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, rest, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if cfg.cpuProfile != "" {
		f, err := os.Create(cfg.cpuProfile)
		if err != nil {
			logger.Error("create cpu profile", "error", err)
			return 1
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			logger.Error("start cpu profile", "error", err)
			_ = f.Close()
			return 1
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		}()
	}

	a, closeFn, err := openArchive(ctx, &cfg, logger)
	if err != nil {
		logger.Error("open archive", "error", err)
		return 1
	}
	defer closeFn() //nolint:errcheck // read-only sources

	if err := runCommand(a, rest[0], rest[1:], stdout); err != nil {
		logger.Error(rest[0], "error", err)
		return 1
	}
	return 0
}

func parseFlags(args []string, stderr io.Writer) (config, []string, error) {
	var cfg config
	var httpBPS string

	fset := flag.NewFlagSet("ustar", flag.ContinueOnError)
	fset.SetOutput(stderr)
	fset.Usage = func() {
		fmt.Fprint(stderr, usage)
		fset.PrintDefaults()
	}
	fset.StringVar(&cfg.file, "f", "", "local archive file (.tar, .tar.gz, .tar.zst)")
	fset.StringVar(&cfg.url, "url", "", "archive URL read with HTTP range requests")
	fset.StringVar(&cfg.ociLayout, "oci-layout", "", "OCI image layout directory")
	fset.StringVar(&cfg.ref, "ref", "latest", "tag or digest inside the OCI layout")
	fset.StringVar(&cfg.image, "image", "", "remote image reference (registry/repo:tag)")
	fset.IntVar(&cfg.layer, "layer", -1, "layer number, negative counts from the top layer")
	fset.BoolVar(&cfg.plainHTTP, "plain-http", false, "talk to the registry without TLS")
	fset.BoolVar(&cfg.index, "index", false, "build a path index on first query")
	fset.StringVar(&cfg.indexFile, "index-file", "", "load a path index written by the index command")
	fset.IntVar(&cfg.maxSymlinkDepth, "max-symlink-depth", 0, "symlink resolution limit (0 = default)")
	fset.BoolVar(&cfg.signedChecksums, "signed-checksums", false, "also accept legacy signed header checksums")
	fset.StringVar(&cfg.cacheDir, "cache-dir", "", "disk block cache for remote sources")
	fset.BoolVar(&cfg.cacheMem, "cache-mem", false, "in-memory block cache for remote sources")
	fset.Int64Var(&cfg.cacheSizeMB, "cache-size", 0, "block cache limit in MiB (0 = unlimited)")
	fset.DurationVar(&cfg.httpLatency, "http-latency", 0, "added latency per HTTP request")
	fset.StringVar(&httpBPS, "http-bps", "", "bytes/sec throttle for HTTP responses (e.g. 10MBps)")
	fset.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	fset.BoolVar(&cfg.verbose, "v", false, "debug logging")
	if err := fset.Parse(args); err != nil {
		return config{}, nil, err
	}

	if httpBPS != "" {
		bps, err := parseBytesPerSecond(httpBPS)
		if err != nil {
			fmt.Fprintf(stderr, "http-bps: %v\n", err)
			return config{}, nil, err
		}
		cfg.httpBPS = bps
	}

	sources := 0
	for _, s := range []string{cfg.file, cfg.url, cfg.ociLayout, cfg.image} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		err := errors.New("exactly one of -f, -url, -oci-layout or -image is required")
		fmt.Fprintln(stderr, err)
		return config{}, nil, err
	}
	return cfg, fset.Args(), nil
}
