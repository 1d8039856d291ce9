// Command rowbind-describe runs a query and prints the compiled read bindings
// for its result set, followed by the first rows as records.
//
//	rowbind-describe -dsn file:app.db -query 'SELECT * FROM orders'
//	rowbind-describe -dsn postgres://localhost/app -config rowbind.yaml -query '...'
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Konsultn-Engineering/rowbind"
	"github.com/Konsultn-Engineering/rowbind/database"
	"github.com/Konsultn-Engineering/rowbind/schema"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		slog.Error("rowbind-describe failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("rowbind-describe", flag.ContinueOnError)
	dsn := fs.String("dsn", "", "sqlite file or postgres:// URL")
	query := fs.String("query", "", "query to describe")
	configPath := fs.String("config", "", "YAML mapper config")
	limit := fs.Int("limit", 5, "rows to print")
	timeout := fs.Duration("timeout", 30*time.Second, "query timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dsn == "" || *query == "" {
		return fmt.Errorf("both -dsn and -query are required")
	}

	cfg := &rowbind.Config{}
	if *configPath != "" {
		var err error
		if cfg, err = rowbind.LoadConfigFile(*configPath); err != nil {
			return err
		}
	}
	m, err := rowbind.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	db, err := open(ctx, *dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	cur, err := db.Query(ctx, *query)
	if err != nil {
		return err
	}
	defer cur.Close()

	fields := cur.Fields()
	for _, f := range fields {
		fmt.Fprintf(out, "field %s\n", f)
	}
	r, err := m.CompileRecordReader(fields)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pipeline %s\n", r.Key())
	for _, b := range r.Describe() {
		fmt.Fprintf(out, "  %s\n", b)
	}

	for n := 0; n < *limit && cur.Next(); n++ {
		v, err := r.Read(cur)
		if err != nil {
			return err
		}
		rec := v.Interface().(*schema.Record)
		parts := make([]string, 0, rec.Len())
		rec.Range(func(name string, v any) bool {
			parts = append(parts, fmt.Sprintf("%s=%v", name, v))
			return true
		})
		fmt.Fprintf(out, "row %d: %s\n", n+1, strings.Join(parts, " "))
	}
	return cur.Err()
}

func open(ctx context.Context, dsn string) (database.Database, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return database.NewPgxDatabase(pool), nil
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sdb, err := database.NewSqlDatabase(db, 0)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return sdb, nil
}
