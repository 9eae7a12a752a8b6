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

	"monitordb.io/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn = flag.String("dsn", os.Getenv("MONITORDB_PG_DSN"), "PostgreSQL DSN")
		dir = flag.String("migrations", "ops/migrations/sql", "Path to SQL migrations")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or MONITORDB_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	runner := migrate.NewRunner(db, *dir)

	switch cmd := flag.Arg(0); cmd {
	case "up":
		n, err := runner.Up(ctx)
		if err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		log.Printf("applied %d migrations", n)
	case "down":
		name, err := runner.Down(ctx)
		if err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		log.Printf("rolled back %s", name)
	case "status":
		history, err := runner.Applied(ctx)
		if err != nil {
			log.Fatalf("migrate status: %v", err)
		}
		for _, rec := range history {
			fmt.Printf("%s\t%s\n", rec.Name, rec.AppliedAt.Format(time.RFC3339))
		}
	default:
		log.Fatalf("unknown command %q", cmd)
	}
}
