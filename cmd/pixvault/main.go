package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/rayozzie/pixvault/pkg/archive"
	"github.com/rayozzie/pixvault/pkg/failure"
	"github.com/rayozzie/pixvault/pkg/pixvault"
	"github.com/rayozzie/pixvault/pkg/raster"
	"github.com/rayozzie/pixvault/pkg/trace"
	"golang.org/x/term"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  pixvault encode <source> <raster> [-method METHOD] [-password PW | -ask] [-limits] [-max-payload BYTES] [-max-side PIXELS] [-verbose]
  pixvault decode <raster> <dest> [-file] [-password PW] [-verbose]
  pixvault info <raster>

Options:
  -method METHOD     Archive method: %s (default: %s)
  -password PW       Encrypt or decrypt with PW (or set %s)
  -ask               Prompt for an encryption password
  -limits            Refuse payloads or rasters beyond the size limits
  -max-payload BYTES Payload limit when -limits is set (default: %d)
  -max-side PIXELS   Raster side limit when -limits is set (default: %d)
  -file              Write a single-file archive to <dest> itself
  -verbose           Enable detailed (debug) output

The raster format follows the extension of <raster>: .tif/.tiff for TIFF,
anything else PNG.
`, methodList(), archive.DefaultMethod, PasswordEnvVar, raster.DefaultLimits.MaxPayload, raster.DefaultLimits.MaxSide)
	os.Exit(1)
}

func methodList() string {
	var names []string
	for _, m := range archive.Methods() {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}

// progressPrinter draws a single status line on stderr when it is a terminal.
func progressPrinter() pixvault.ProgressFunc {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return func(p pixvault.Progress) {
		fmt.Fprintf(os.Stderr, "\r%3.0f%% %-40.40s", p.Percent, p.Phase+" "+p.Entry)
		if p.Percent >= 100 {
			fmt.Fprintln(os.Stderr)
		}
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	tracer := trace.NewTracer("PIXVAULT", trace.LogLevelNormal)
	ctx = trace.WithContext(ctx, tracer)

	switch os.Args[1] {
	case "encode":
		if len(os.Args) < 4 {
			usage()
		}
		source, dest := os.Args[2], os.Args[3]

		fs := flag.NewFlagSet("encode", flag.ExitOnError)
		methodVal := fs.String("method", string(archive.DefaultMethod), "archive method")
		passwordVal := fs.String("password", "", "encryption password")
		askVal := fs.Bool("ask", false, "prompt for an encryption password")
		limitsVal := fs.Bool("limits", false, "enforce payload and raster size limits")
		maxPayloadVal := fs.Int64("max-payload", raster.DefaultLimits.MaxPayload, "payload limit in bytes")
		maxSideVal := fs.Int("max-side", raster.DefaultLimits.MaxSide, "raster side limit in pixels")
		verboseVal := fs.Bool("verbose", false, "enable detailed (debug) output")
		fs.Parse(os.Args[4:])

		method, err := archive.ParseMethod(*methodVal)
		if err != nil {
			log.Fatalf("Error: %v (choose one of %s)", err, methodList())
		}

		password := *passwordVal
		if password == "" {
			password = os.Getenv(PasswordEnvVar)
		}
		if *askVal && password == "" {
			password, err = getPasswordWithConfirm("Password: ", "Confirm password: ")
			if err != nil {
				log.Fatalf("Error: %v", err)
			}
		}

		res, err := pixvault.Encode(ctx, pixvault.EncodeConfig{
			Source:        source,
			Dest:          dest,
			Method:        method,
			EnforceLimits: *limitsVal,
			Limits:        raster.Limits{MaxPayload: *maxPayloadVal, MaxSide: *maxSideVal},
			Password:      password,
			Progress:      progressPrinter(),
			Verbose:       *verboseVal,
		})
		if err != nil {
			log.Fatalf("Error: Encode failed: %v", err)
		}
		fmt.Printf("%s: %dx%d, %d entries, %d payload bytes, method %s, password %s\n",
			res.Dest, res.Side, res.Side, res.Entries, res.PayloadBytes, res.Method, res.Tag)

	case "decode":
		if len(os.Args) < 4 {
			usage()
		}
		source, dest := os.Args[2], os.Args[3]

		fs := flag.NewFlagSet("decode", flag.ExitOnError)
		fileVal := fs.Bool("file", false, "write a single-file archive to the destination path itself")
		passwordVal := fs.String("password", "", "decryption password")
		verboseVal := fs.Bool("verbose", false, "enable detailed (debug) output")
		fs.Parse(os.Args[4:])

		password := *passwordVal
		if password == "" {
			password = os.Getenv(PasswordEnvVar)
		}
		cfg := pixvault.DecodeConfig{
			Source:   source,
			Dest:     dest,
			Password: password,
			AsFile:   *fileVal,
			Progress: progressPrinter(),
			Verbose:  *verboseVal,
		}

		res, err := pixvault.Decode(ctx, cfg)
		if failure.Is(err, failure.PasswordRequired) && stdinIsTerminal() {
			cfg.Password, err = getPassword("Password: ")
			if err != nil {
				log.Fatalf("Error: %v", err)
			}
			res, err = pixvault.Decode(ctx, cfg)
		}
		if err != nil {
			log.Fatalf("Error: Decode failed: %v", err)
		}
		fmt.Printf("%s: %d entries from %q\n", res.Dest, res.Entries, res.Header.Name)

	case "info":
		if len(os.Args) < 3 {
			usage()
		}
		info := pixvault.Peek(ctx, os.Args[2])
		fmt.Printf("Name:         %s\n", info.Name)
		fmt.Printf("Kind:         %s\n", info.Kind)
		fmt.Printf("Entries:      %d\n", info.EntryCount)
		fmt.Printf("Total size:   %d bytes\n", info.TotalSize)
		fmt.Printf("Method:       %s\n", info.Method)
		fmt.Printf("Password:     %s\n", info.PasswordTag)
		fmt.Printf("Header bytes: %d\n", info.HeaderBytes)

	default:
		usage()
	}
}
