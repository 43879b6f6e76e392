package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/kittclouds/flexstore/pkg/store"
	"github.com/kittclouds/flexstore/pkg/types"
)

func main() {
	dir, err := os.MkdirTemp("", "storedemo")
	if err != nil {
		log.Fatalf("MkdirTemp failed: %v", err)
	}
	defer os.RemoveAll(dir)

	db, err := store.Open(filepath.Join(dir, "demo.db"), store.KindConfig{
		Name: "tracks",
		Fields: []store.FieldDef{
			{Name: "title", Type: types.String},
			{Name: "artist", Type: types.String},
			{Name: "year", Type: types.Integer},
			{Name: "length", Type: types.Duration},
			{Name: "added", Type: types.Date},
		},
		TimestampField: "added",
	})
	if err != nil {
		log.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	rows := []map[string]types.Value{
		{"title": types.Text("Heliograph"), "artist": types.Text("Ada North"), "year": types.Int(1994), "length": types.Float(251)},
		{"title": types.Text("Meridian"), "artist": types.Text("Ada North"), "year": types.Int(2001), "length": types.Float(188)},
		{"title": types.Text("Saltwater"), "artist": types.Text("The Shallows"), "year": types.Int(1997), "length": types.Float(203)},
	}
	for _, r := range rows {
		e := store.NewEntity(db.Kind("tracks"))
		e.Update(r)
		e.Set("mood", types.Text("calm"))
		if err := e.Add(db); err != nil {
			log.Fatalf("Add failed: %v", err)
		}
	}
	fmt.Println("  ✓ added", len(rows), "tracks")

	fields := db.Kind("tracks").QueryFields()
	for _, input := range []string{
		"ada",
		"year:1990..1999",
		"-artist:shallows",
		"mood:calm year-",
	} {
		q, s, err := fields.ParseSortedString(input)
		if err != nil {
			log.Fatalf("parse %q failed: %v", input, err)
		}
		results, err := db.Fetch("tracks", q, s)
		if err != nil {
			log.Fatalf("fetch %q failed: %v", input, err)
		}
		fmt.Printf("  query %-22q -> %d hit(s)\n", input, results.Len())
		for e := range results.Iter() {
			fmt.Printf("      %s - %s (%s)\n",
				e.FormattedValue("artist"),
				e.FormattedValue("title"),
				e.FormattedValue("year"))
		}
	}

	fmt.Println("✅ storedemo done")
}
