package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"clinicore.org/internal/migrate"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("CLINICORE_PG_DSN"), "postgres connection string")
	migrationsDir := flag.String("migrations", "ops/migrations/sql", "directory with migration files")
	seedsDir := flag.String("seeds", "ops/migrations/seeds", "directory with seed files")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("dsn is required (flag -dsn or CLINICORE_PG_DSN)")
	}
	cmd := flag.Arg(0)
	if cmd == "" {
		log.Fatal("usage: migrate [-dsn ...] up|down|seed|status")
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	mgr := migrate.NewManager(db, *migrationsDir, *seedsDir)

	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var applied []string
		applied, err = mgr.Status(ctx)
		if err == nil {
			if len(applied) == 0 {
				fmt.Println("no migrations applied")
			}
			for _, name := range applied {
				fmt.Println(name)
			}
		}
	default:
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}
