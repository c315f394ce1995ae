package main

// Show header fields of the packets in a raw capture.
//
// Usage:
//
//    showpkt [-spinn] FILE FIELD1 FIELD2 ...
//
// where
//  - FILE is a raw capture (.spinn) written by visrt
//  - FIELDi is the name of a header field, e.g. Cmd or SrceAddr
//  - with -spinn, fields are taken from the spinn header instead of
//    the SDP header
//
// Each line shows the record's time offset followed by the field values
// in hex.  With no fields, the available names are listed.

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jbrzusto/visrt/capture"
	"github.com/jbrzusto/visrt/sdp"
)

func usage(fs []sdp.Field) {
	fmt.Fprintln(os.Stderr, "usage: showpkt [-spinn] FILE FIELD1 FIELD2 ...")
	fmt.Fprintln(os.Stderr, "fields:")
	for _, f := range fs {
		fmt.Fprintf(os.Stderr, "   %-10s %s\n", f.Name, f.Desc)
	}
	os.Exit(1)
}

func main() {
	args := os.Args[1:]
	var hdr interface{} = sdp.Header{}
	if len(args) > 0 && args[0] == "-spinn" {
		hdr = sdp.SpinnHeader{}
		args = args[1:]
	}
	all, err := sdp.Fields(hdr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(args) < 2 {
		usage(all)
	}
	show := make([]sdp.Field, 0, len(args)-1)
	for _, name := range args[1:] {
		f, ok := sdp.Lookup(all, name)
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown field %s\n", name)
			usage(all)
		}
		show = append(show, f)
	}

	file, err := os.Open(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer file.Close()

	fmt.Printf("%12s %s\n", "offset", strings.Join(args[1:], " "))
	r := capture.NewReader(file)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "record %d: %v\n", r.Count()+1, err)
			os.Exit(1)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%12s", rec.Offset)
		for _, f := range show {
			v, err := f.Get(rec.Payload)
			if errors.Is(err, sdp.ErrShort) {
				b.WriteString(" -")
				continue
			}
			fmt.Fprintf(&b, " %#0*x", 2+2*f.Size, v)
		}
		fmt.Println(b.String())
	}
}
