package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/davstream/internal/core/failure"
	"github.com/davstream/internal/core/origin"
	"github.com/davstream/internal/core/reader"
	flag "github.com/spf13/pflag"
)

const catChunk = 4 << 20

func (a *app) ls(ctx context.Context, args []string) int {
	dir := a.resolve(args)
	entries, err := a.backend.ListDirectory(ctx, a.origin, dir)
	if err != nil {
		a.log.Errorf("ls %s: %v", dir, err)
		return 1
	}

	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		size := "-"
		if e.Size != nil {
			size = fmt.Sprint(*e.Size)
		}
		modified := "-"
		if e.ModifiedAt != nil {
			modified = e.ModifiedAt.Format(time.DateTime)
		}
		name := e.Name
		if e.IsDir {
			name += "/"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", size, modified, name)
	}
	if err := w.Flush(); err != nil {
		a.log.Errorf("ls: %v", err)
		return 1
	}
	return 0
}

func (a *app) probe(ctx context.Context, args []string) int {
	p := a.resolve(args)
	rd := reader.New(a.backend, a.origin, p, a.readerOptions()...)
	defer rd.Close()

	m, err := rd.ProbeMetadata(ctx)
	if err != nil {
		a.log.Errorf("probe %s: %v", p, err)
		return 1
	}

	fmt.Fprintf(a.stdout, "path:          %s\n", p)
	fmt.Fprintf(a.stdout, "length:        %d\n", m.TotalLength)
	fmt.Fprintf(a.stdout, "mime:          %s\n", m.MimeType)
	fmt.Fprintf(a.stdout, "range access:  %t\n", m.SupportsRangeAccess)
	return 0
}

func (a *app) cat(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("cat", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	offset := fs.Int64("offset", 0, "first byte to read")
	length := fs.Int64("length", -1, "bytes to read, -1 reads to the end")
	attempts := fs.Uint("attempts", 3, "attempts per chunk on network errors")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: cat <path> [--offset N] [--length N]")
		return 2
	}
	if *attempts == 0 {
		*attempts = 1
	}

	p := a.resolve(fs.Args())
	rd := reader.New(a.backend, a.origin, p, a.readerOptions()...)
	defer rd.Close()

	var end int64
	if *length >= 0 {
		end = *offset + *length
	} else {
		m, err := rd.ProbeMetadata(ctx)
		if err != nil {
			a.log.Errorf("cat %s: %v", p, err)
			return 1
		}
		end = m.TotalLength
	}

	for pos := *offset; end < 0 || pos < end; {
		n := int64(catChunk)
		if end >= 0 {
			n = min(n, end-pos)
		}

		data, err := retry.DoWithData(
			func() ([]byte, error) {
				return rd.Read(ctx, reader.ReadRequest{Offset: pos, Length: n}).Wait(ctx)
			},
			retry.Context(ctx),
			retry.Attempts(*attempts),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool { return failure.Is(err, failure.Network) }),
			retry.OnRetry(func(i uint, err error) {
				a.log.Logf("cat %s at %d: retry %d: %v", p, pos, i+1, err)
			}),
		)
		if err != nil {
			a.log.Errorf("cat %s at %d: %v", p, pos, err)
			return 1
		}
		if _, err := a.stdout.Write(data); err != nil {
			a.log.Errorf("cat: %v", err)
			return 1
		}
		if int64(len(data)) < n {
			break
		}
		pos += int64(len(data))
	}
	return 0
}

func (a *app) cred(args []string) int {
	if a.creds == nil {
		fmt.Fprintln(os.Stderr, "Error: cred needs --credstore")
		return 2
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: cred set <url> <user> <password> | cred delete <url> | cred list")
		return 2
	}

	switch args[0] {
	case "list":
		keys, err := a.creds.Origins()
		if err != nil {
			a.log.Errorf("cred list: %v", err)
			return 1
		}
		for _, k := range keys {
			fmt.Fprintln(a.stdout, k)
		}
		return 0
	case "set":
		if len(args) != 4 {
			fmt.Fprintln(os.Stderr, "Usage: cred set <url> <user> <password>")
			return 2
		}
		o, _, err := origin.Parse(args[1])
		if err != nil {
			a.log.Errorf("cred set: %v", err)
			return 2
		}
		if err := a.creds.Put(o, origin.Credential{Username: args[2], Password: args[3]}); err != nil {
			a.log.Errorf("cred set: %v", err)
			return 1
		}
		a.log.Logf("stored credential for %s", o)
		return 0
	case "delete":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "Usage: cred delete <url>")
			return 2
		}
		o, _, err := origin.Parse(args[1])
		if err != nil {
			a.log.Errorf("cred delete: %v", err)
			return 2
		}
		if err := a.creds.Delete(o); err != nil {
			a.log.Errorf("cred delete: %v", err)
			return 1
		}
		return 0
	}

	fmt.Fprintf(os.Stderr, "Error: unknown cred command %q\n", args[0])
	return 2
}
