package main

// Print the wire layout of the SpiNNaker packet headers.
// The layout is read from the struct tags of sdp.Header and
// sdp.SpinnHeader, so it always matches the decoder.
//
// Usage:
//
//    gen_layout [-md]
//
// With -md the tables are written as markdown.

import (
	"fmt"
	"os"

	"github.com/jbrzusto/visrt/sdp"
)

// row formats one field in the chosen style.
func row(f sdp.Field, md bool) string {
	order := "le"
	if f.Big {
		order = "be"
	}
	if f.Size == 1 {
		order = "-"
	}
	if md {
		return fmt.Sprintf("| %d | %d | %s | %s | %s |\n", f.Offset, f.Size, order, f.Name, f.Desc)
	}
	return fmt.Sprintf("%4d %4d  %-3s %-10s %s\n", f.Offset, f.Size, order, f.Name, f.Desc)
}

func table(title string, x interface{}, length int, md bool) error {
	fs, err := sdp.Fields(x)
	if err != nil {
		return err
	}
	if md {
		fmt.Printf("## %s (%d bytes)\n\n| offset | size | order | field | description |\n|---|---|---|---|---|\n", title, length)
	} else {
		fmt.Printf("%s: %d byte header\n", title, length)
	}
	end := 0
	for _, f := range fs {
		if f.Offset != end {
			return fmt.Errorf("%s: gap or overlap before %s at offset %d", title, f.Name, f.Offset)
		}
		end = f.Offset + f.Size
		fmt.Print(row(f, md))
	}
	if end != length {
		return fmt.Errorf("%s: fields end at %d, header is %d bytes", title, end, length)
	}
	if md {
		fmt.Printf("| %d | ... | le | data | up to %d words |\n\n", length, sdp.MaxDataWords)
	} else {
		fmt.Printf("%4d  ...  data words, little-endian, up to %d\n\n", length, sdp.MaxDataWords)
	}
	return nil
}

func main() {
	md := len(os.Args) > 1 && os.Args[1] == "-md"
	if err := table("SDP", sdp.Header{}, sdp.HeaderLen, md); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := table("spinn", sdp.SpinnHeader{}, sdp.SpinnHeaderLen, md); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
