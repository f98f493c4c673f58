package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dbPath := fs.String("db", "./data/index/portals.sqlite", "sqlite index path")
	portal := fs.String("portal", "", "portal id filter (refreshes, passes)")
	viewer := fs.String("viewer", "", "viewer id filter (passes)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "portals"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	var run func(*sql.DB) error
	switch q {
	case "meta":
		run = func(db *sql.DB) error { return queryMeta(db) }
	case "portals":
		run = func(db *sql.DB) error { return queryPortals(db) }
	case "refreshes":
		run = func(db *sql.DB) error { return queryRefreshes(db, *portal, *limit) }
	case "passes":
		run = func(db *sql.DB) error { return queryPasses(db, *portal, *viewer, *limit) }
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want meta|portals|refreshes|passes)")
		os.Exit(2)
	}
	if err := run(db); err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
}

func queryMeta(db *sql.DB) error {
	rows, err := db.Query(`SELECT key,value FROM meta ORDER BY key`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := rows.Scan(&r.Key, &r.Value); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}

func queryPortals(db *sql.DB) error {
	rows, err := db.Query(`SELECT id,name,origin_world,dest_world,width,height,frame FROM portals ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			OriginWorld string `json:"origin_world"`
			DestWorld   string `json:"dest_world"`
			Width       int    `json:"width"`
			Height      int    `json:"height"`
			Frame       string `json:"frame"`
		}
		if err := rows.Scan(&r.ID, &r.Name, &r.OriginWorld, &r.DestWorld, &r.Width, &r.Height, &r.Frame); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}

func queryRefreshes(db *sql.DB, portal string, limit int) error {
	rows, err := db.Query(`SELECT at,portal,tick,mode,non_obscured,viewable,dest_changes,removed,duration_us
		FROM portal_refresh WHERE (?='' OR portal=?) ORDER BY id DESC LIMIT ?`, portal, portal, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			At          string `json:"at"`
			Portal      string `json:"portal"`
			Tick        int    `json:"tick"`
			Mode        string `json:"mode"`
			NonObscured int    `json:"non_obscured"`
			Viewable    int    `json:"viewable"`
			DestChanges int    `json:"dest_changes"`
			Removed     int    `json:"removed"`
			DurationUS  int64  `json:"duration_us"`
		}
		if err := rows.Scan(&r.At, &r.Portal, &r.Tick, &r.Mode, &r.NonObscured, &r.Viewable, &r.DestChanges, &r.Removed, &r.DurationUS); err != nil {
			return err
		}
		printJSON(r)
	}
	return rows.Err()
}

func queryPasses(db *sql.DB, portal, viewer string, limit int) error {
	rows, err := db.Query(`SELECT at,viewer,portal,refresh,changes,visible,reverted,duration_us
		FROM viewer_pass WHERE (?='' OR portal=?) AND (?='' OR viewer=?) ORDER BY id DESC LIMIT ?`,
		portal, portal, viewer, viewer, limit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			At         string `json:"at"`
			Viewer     string `json:"viewer"`
			Portal     string `json:"portal"`
			Refresh    bool   `json:"refresh"`
			Changes    int    `json:"changes"`
			Visible    int    `json:"visible"`
			Reverted   int    `json:"reverted"`
			DurationUS int64  `json:"duration_us"`
		}
		var refresh int
		if err := rows.Scan(&r.At, &r.Viewer, &r.Portal, &refresh, &r.Changes, &r.Visible, &r.Reverted, &r.DurationUS); err != nil {
			return err
		}
		r.Refresh = refresh != 0
		printJSON(r)
	}
	return rows.Err()
}
