package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"maps"
	"slices"

	"github.com/censys-research/shodan-ng/pkg/sink"
	"github.com/tidwall/gjson"
)

type Field struct {
	Path  string
	Type  string
	Count int
}

func walk(prefix string, v gjson.Result, seen map[string]*Field) {
	v.ForEach(func(key, value gjson.Result) bool {
		path := key.String()
		if prefix != "" {
			path = prefix + "." + path
		}

		f, ok := seen[path]
		if !ok {
			f = &Field{Path: path, Type: typeOf(value)}
			seen[path] = f
		}
		f.Count++

		if value.IsObject() {
			walk(path, value, seen)
		}
		return true
	})
}

func typeOf(v gjson.Result) string {
	switch {
	case v.IsObject():
		return "object"
	case v.IsArray():
		return "array"
	}
	return v.Type.String()
}

// prints every field path found in the given record files, usable with --fields.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <file.json.gz>...\n", os.Args[0])
		os.Exit(1)
	}

	seen := make(map[string]*Field)
	for _, name := range os.Args[1:] {
		r, err := sink.OpenReader(name)
		if err != nil {
			panic(err)
		}

		for {
			rec, err := r.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				panic(err)
			}
			walk("", gjson.ParseBytes(rec.Bytes()), seen)
		}
		r.Close()
	}

	for _, path := range slices.Sorted(maps.Keys(seen)) {
		f := seen[path]
		fmt.Printf("%-50s %-8s %d\n", f.Path, f.Type, f.Count)
	}
}
